package cmcp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jellysheep/vesper-libs/nodeid"
)

func TestNodeRejectsNilMessageCallback(t *testing.T) {
	_, err := NewNode(nodeid.Server, nil, nil)
	if err == nil {
		t.Fatalf("NewNode: expected error for nil messageCB")
	}
}

func TestNodeConnectTwiceFails(t *testing.T) {
	transport := NewMemTransport()
	n, err := NewNode(nodeid.Server, func(*Message) {}, nil, WithTransport(transport))
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	if err := n.Connect("pub", "sub"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := n.Connect("pub", "sub"); err == nil {
		t.Fatalf("Connect: expected error on second call")
	}
}

func TestNodeExchangesHeartbeats(t *testing.T) {
	transport := NewMemTransport()

	var mu sync.Mutex
	var clientHeartbeats, serverHeartbeats int

	server, err := NewNode(nodeid.Server, func(msg *Message) {
		mu.Lock()
		defer mu.Unlock()
		if msg.Command == ClientHeartbeat {
			clientHeartbeats++
		}
	}, nil,
		WithTransport(transport),
		WithHeartbeatInterval(20*time.Millisecond),
	)
	require.NoError(t, err)

	client, err := NewNode(nodeid.Client, func(msg *Message) {
		mu.Lock()
		defer mu.Unlock()
		if msg.Command == ServerHeartbeat {
			serverHeartbeats++
		}
	}, nil,
		WithTransport(transport),
		WithHeartbeatInterval(20*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, server.Connect("pub-addr", "sub-addr"))
	require.NoError(t, client.Connect("pub-addr", "sub-addr"))

	require.NoError(t, server.Start())
	require.NoError(t, client.Start())
	defer server.Close()
	defer client.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return clientHeartbeats > 0 && serverHeartbeats > 0
	}, time.Second, 5*time.Millisecond)
}

func TestNodeDropsBroadcastClaimingSenders(t *testing.T) {
	transport := NewMemTransport()

	var mu sync.Mutex
	var fromBroadcast, fromClient int

	n, err := NewNode(nodeid.Server, func(msg *Message) {
		mu.Lock()
		defer mu.Unlock()
		if msg.Sender.IsBroadcast() {
			fromBroadcast++
		} else {
			fromClient++
		}
	}, nil,
		WithTransport(transport),
		WithHeartbeatInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, n.Connect("pub", "sub"))
	require.NoError(t, n.Start())
	defer n.Close()

	pub, err := transport.OpenPub("sub", Connect)
	require.NoError(t, err)

	send := func(sender nodeid.ID) {
		msg, err := Build(Data, n.ID(), sender, Command(7), nil)
		require.NoError(t, err)
		buf := make([]byte, msg.EncodedLen())
		msg.Encode(buf)
		require.NoError(t, pub.Send(buf))
	}

	send(nodeid.ServerBroadcast)
	send(nodeid.ClientBroadcast)
	send(nodeid.ID(11))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fromClient == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, fromBroadcast)
}

func TestNodeStopReturnsToInitialized(t *testing.T) {
	transport := NewMemTransport()
	n, err := NewNode(nodeid.Server, func(*Message) {}, nil,
		WithTransport(transport),
		WithHeartbeatInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, n.Connect("pub", "sub"))
	require.NoError(t, n.Start())
	require.Equal(t, StateRunning, n.State())

	require.NoError(t, n.Stop())
	require.Equal(t, StateInitialized, n.State())
}

func TestNodeBuildAndSendBeforeConnectFails(t *testing.T) {
	n, err := NewNode(nodeid.Server, func(*Message) {}, nil)
	require.NoError(t, err)

	err = n.BuildAndSend(Control, nodeid.ClientBroadcast, n.ID(), ServerHeartbeat, nil)
	require.Error(t, err)
}
