package amber_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"amber-go/internal/amber"
	"amber-go/internal/testutil"
)

func TestDiff(t *testing.T) {
	at := func(sec int64) time.Time { return time.Unix(sec, 0) }

	prev := amber.Snapshot{"p1": at(1), "p2": at(2), "p3": at(3)}
	next := amber.Snapshot{"p1": at(1), "p2": at(9), "p4": at(4)}

	changed, missing := amber.Diff(prev, next)
	if diff := cmp.Diff([]string{"p2", "p4"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"p3"}, missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}

	changed, missing = amber.Diff(next, next)
	if len(changed) != 0 || len(missing) != 0 {
		t.Errorf("Diff(next, next) = %v, %v, want nothing", changed, missing)
	}
}

func TestService_Snapshot(t *testing.T) {
	env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
	seedBlog(env)
	env.FS.VanishOnStat(tagSQL)

	snap, err := env.Service.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := snap[tagSQL]; ok {
		t.Error("Snapshot() includes a file that vanished before stat")
	}
	if len(snap) != 3 {
		t.Errorf("len(Snapshot()) = %d, want 3", len(snap))
	}
}

// startWatching loads the corpus and returns its snapshot.
func startWatching(t *testing.T, env *testutil.Env) amber.Snapshot {
	t.Helper()

	if _, err := env.Service.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	snap, err := env.Service.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func TestService_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("idle", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
		seedBlog(env)
		snap := startWatching(t, env)
		writes := env.FS.Writes()

		next, err := env.Service.Tick(ctx, snap)
		if err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		if diff := cmp.Diff(snap, next); diff != "" {
			t.Errorf("idle Tick() changed the snapshot (-want +got):\n%s", diff)
		}
		if env.FS.Writes() != writes {
			t.Error("idle Tick() wrote files")
		}
	})

	t.Run("edit, create and delete", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
		seedBlog(env)
		snap := startWatching(t, env)

		rust := testutil.Path("data/tag/rust.yml")
		env.FS.AddFile(tagGo, "label: Golang\n")
		env.FS.AddFile(rust, "label: Rust\n")

		snap, err := env.Service.Tick(ctx, snap)
		if err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		if got := mustGet(t, env, "blog.tag", "go").Fields["label"]; got != "Golang" {
			t.Errorf("go label = %v, want Golang", got)
		}
		mustGet(t, env, "blog.tag", "rust")

		env.FS.Delete(rust)
		if _, err := env.Service.Tick(ctx, snap); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		if exists(t, env, "blog.tag", "rust") {
			t.Error("rust survived the deletion of its document")
		}
	})

	t.Run("changes are loaded before deletions", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
		seedBlog(env)
		snap := startWatching(t, env)

		// The article moves to a new author while the old one is removed.
		env.FS.AddFile(authorBob, "name: Bob\n")
		env.FS.AddFile(helloEN, "author: bob\ntitle: Hello\n---\n# Hello\n")
		env.FS.Delete(authorJane)

		if _, err := env.Service.Tick(ctx, snap); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		if exists(t, env, "blog.author", "jane") {
			t.Error("jane survived")
		}
		article := mustGet(t, env, "blog.article", "en/hello")
		if diff := cmp.Diff(amber.NaturalKeys("bob"), article.Relations["author"]); diff != "" {
			t.Errorf("article author mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("failure still advances the snapshot", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
		seedBlog(env)
		snap := startWatching(t, env)

		env.FS.AddFile(helloEN, "title: broken\n")
		next, err := env.Service.Tick(ctx, snap)
		if err == nil {
			t.Fatal("Tick() expected error")
		}
		if !next[helloEN].After(snap[helloEN]) {
			t.Error("Tick() did not return the new snapshot")
		}

		// The broken document is not retried until it changes again.
		if _, err := env.Service.Tick(ctx, next); err != nil {
			t.Errorf("Tick() after failure error = %v", err)
		}
	})
}

func TestService_Watch(t *testing.T) {
	t.Run("picks up changes until cancelled", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
		seedBlog(env)
		snap := startWatching(t, env)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- env.Service.Watch(ctx, time.Millisecond, snap) }()

		env.FS.AddFile(testutil.Path("data/tag/rust.yml"), "label: Rust\n")

		deadline := time.Now().Add(5 * time.Second)
		for !exists(t, env, "blog.tag", "rust") {
			if time.Now().After(deadline) {
				t.Fatal("Watch() never loaded the new document")
			}
			time.Sleep(5 * time.Millisecond)
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	})

	t.Run("failure stops the loop", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict})
		seedBlog(env)
		snap := startWatching(t, env)
		env.FS.AddFile(helloEN, "title: broken\n")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := env.Service.Watch(ctx, time.Millisecond, snap)
		var lfe *amber.LoadFromFileError
		if !errors.As(err, &lfe) {
			t.Fatalf("Watch() error = %v, want LoadFromFileError", err)
		}
	})

	t.Run("lenient reload keeps going", func(t *testing.T) {
		env := testutil.NewEnv(t, amber.Options{OnDelete: amber.DeleteRestrict, LenientReload: true})
		seedBlog(env)
		snap := startWatching(t, env)
		env.FS.AddFile(helloEN, "title: broken\n")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := env.Service.Watch(ctx, time.Millisecond, snap); err != nil {
			t.Errorf("Watch() error = %v, want nil", err)
		}
	})
}
