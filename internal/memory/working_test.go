package memory

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkingMemoryFIFOBounds(t *testing.T) {
	wm := &WorkingMemory{}
	for i := 0; i < 10; i++ {
		wm.AddMessage("msg" + strconv.Itoa(i))
		wm.AddStageOutput("out" + strconv.Itoa(i))
		wm.AddIntent("intent" + strconv.Itoa(i))
		wm.AddTone("tone" + strconv.Itoa(i))
	}
	snap := wm.Snapshot()
	require.Len(t, snap.Messages, maxUserMessages)
	require.Len(t, snap.Outputs, maxStageOutputs)
	require.Len(t, snap.Intents, maxIntents)
	require.Len(t, snap.Tones, maxTones)

	// FIFO: oldest evicted, newest retained.
	require.Equal(t, "msg9", snap.Messages[len(snap.Messages)-1])
	require.Equal(t, "msg5", snap.Messages[0])
}

func TestWorkingStorePerUserIsolation(t *testing.T) {
	store := NewWorkingStore()
	store.For("alice").AddMessage("hello from alice")
	store.For("bob").AddMessage("hello from bob")

	require.Equal(t, []string{"hello from alice"}, store.For("alice").Snapshot().Messages)
	require.Equal(t, []string{"hello from bob"}, store.For("bob").Snapshot().Messages)
}
