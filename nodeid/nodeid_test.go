package nodeid_test

import (
	"math/rand/v2"
	"testing"

	"github.com/jellysheep/vesper-libs/nodeid"
)

func TestClass(t *testing.T) {
	tests := map[string]struct {
		id   nodeid.ID
		want nodeid.Class
	}{
		"even is server": {id: 42, want: nodeid.Server},
		"odd is client":  {id: 43, want: nodeid.Client},
		"zero is server": {id: 0, want: nodeid.Server},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tt.id.Class(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsBroadcast(t *testing.T) {
	if !nodeid.ServerBroadcast.IsBroadcast() {
		t.Error("ServerBroadcast should report IsBroadcast")
	}
	if !nodeid.ClientBroadcast.IsBroadcast() {
		t.Error("ClientBroadcast should report IsBroadcast")
	}
	if nodeid.ID(4).IsBroadcast() {
		t.Error("ordinary id should not report IsBroadcast")
	}
}

func TestGenerateMatchesClassAndAvoidsBroadcast(t *testing.T) {
	src := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 1000; i++ {
		id := nodeid.Generate(nodeid.Server, src)
		if id.Class() != nodeid.Server {
			t.Fatalf("generated server id %d has class %v", id, id.Class())
		}
		if id == nodeid.ServerBroadcast {
			t.Fatalf("generated id collided with ServerBroadcast")
		}
	}

	for i := 0; i < 1000; i++ {
		id := nodeid.Generate(nodeid.Client, src)
		if id.Class() != nodeid.Client {
			t.Fatalf("generated client id %d has class %v", id, id.Class())
		}
		if id == nodeid.ClientBroadcast {
			t.Fatalf("generated id collided with ClientBroadcast")
		}
	}
}
