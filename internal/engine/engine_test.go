// internal/engine/engine_test.go
package engine

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

func TestPlan(t *testing.T) {
	desktop := mutation.Viewport{Width: 1300, Height: 4000}
	phone := mutation.Viewport{Width: 375, Height: 2000}

	got := Plan(
		[]string{"https://a.test", "https://b.test"},
		[]mutation.Viewport{desktop, phone},
		[]mutation.Kind{mutation.KindOverflow, mutation.KindOverlap},
	)
	want := []Task{
		{"https://a.test", desktop, mutation.KindOverflow},
		{"https://a.test", desktop, mutation.KindOverlap},
		{"https://a.test", phone, mutation.KindOverflow},
		{"https://a.test", phone, mutation.KindOverlap},
		{"https://b.test", desktop, mutation.KindOverflow},
		{"https://b.test", desktop, mutation.KindOverlap},
		{"https://b.test", phone, mutation.KindOverflow},
		{"https://b.test", phone, mutation.KindOverlap},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, Plan(nil, []mutation.Viewport{desktop}, mutation.AllKinds))
}

func TestTaskString(t *testing.T) {
	task := Task{Site: "https://a.test", Viewport: mutation.Viewport{Width: 375, Height: 812}, Manipulation: mutation.KindOverlap}
	assert.Equal(t, "overlap https://a.test 375x812", task.String())
}

func TestFeed(t *testing.T) {
	defer goleak.VerifyNone(t)

	tasks := Plan([]string{"https://a.test"}, []mutation.Viewport{{Width: 1, Height: 1}}, mutation.AllKinds)

	t.Run("sends every task then closes", func(t *testing.T) {
		var got []Task
		for task := range Feed(context.Background(), tasks) {
			got = append(got, task)
		}
		assert.Equal(t, tasks, got)
	})

	t.Run("stops when the context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch := Feed(ctx, tasks)
		<-ch
		cancel()
		for range ch {
		}
	})
}
