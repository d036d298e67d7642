package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	t.Run("Should keep events in emission order", func(t *testing.T) {
		rec := &Recorder{}
		rec.Emit("export:a", 1)
		rec.Emit("live:b", "open")
		rec.Emit("export:a", 2)

		assert.Len(t, rec.Events(), 3)
		assert.Equal(t, []Event{{Name: "export:a", Payload: 1}, {Name: "export:a", Payload: 2}}, rec.Named("export:a"))
		assert.Empty(t, rec.Named("export:c"))
	})

	t.Run("Should be safe for concurrent emitters", func(t *testing.T) {
		rec := &Recorder{}
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					rec.Emit("tick", j)
				}
			}()
		}
		wg.Wait()
		assert.Len(t, rec.Events(), 400)
	})

	t.Run("Should return a copy", func(t *testing.T) {
		rec := &Recorder{}
		rec.Emit("a", nil)
		events := rec.Events()
		events[0].Name = "changed"
		assert.Equal(t, "a", rec.Events()[0].Name)
	})
}

func TestNop(t *testing.T) {
	var e Emitter = Nop{}
	assert.NotPanics(t, func() { e.Emit("anything", struct{}{}) })
}
