package cmcp

import (
	"bytes"
	"testing"

	"github.com/jellysheep/vesper-libs/nodeid"
)

func buildMessage(t *testing.T, typ MessageType, command Command) *Message {
	t.Helper()
	params := NewDataList()
	mustAdd(t, params, ParamNonce, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	msg, err := Build(typ, nodeid.ID(10), nodeid.ID(20), command, params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return msg
}

func TestMessageEncodeParseRoundTrip(t *testing.T) {
	msg := buildMessage(t, Data, ClientAnnounce)

	buf := make([]byte, msg.EncodedLen())
	msg.Encode(buf)

	parsed, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if parsed.Type != Data {
		t.Fatalf("Type: got %v, want Data", parsed.Type)
	}
	if parsed.Topic != nodeid.ID(10) {
		t.Fatalf("Topic: got %v, want 10", parsed.Topic)
	}
	if parsed.Sender != nodeid.ID(20) {
		t.Fatalf("Sender: got %v, want 20", parsed.Sender)
	}
	if parsed.Command != ClientAnnounce {
		t.Fatalf("Command: got %v, want ClientAnnounce", parsed.Command)
	}

	nonce, err := parsed.Params.Find(ParamNonce, 8)
	if err != nil {
		t.Fatalf("Find nonce: %v", err)
	}
	if !bytes.Equal(nonce, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("nonce: got %v", nonce)
	}
}

func TestMessageControlTypePreserved(t *testing.T) {
	msg := buildMessage(t, Control, ServerHeartbeat)

	buf := make([]byte, msg.EncodedLen())
	msg.Encode(buf)

	parsed, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if parsed.Type != Control {
		t.Fatalf("Type: got %v, want Control", parsed.Type)
	}
	if parsed.Command != ServerHeartbeat {
		t.Fatalf("Command: got %v, want ServerHeartbeat", parsed.Command)
	}
}

func TestMessageEncodeNilParams(t *testing.T) {
	msg, err := Build(Control, nodeid.ServerBroadcast, nodeid.ID(1), ClientHeartbeat, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	buf := make([]byte, msg.EncodedLen())
	msg.Encode(buf)

	if len(buf) != headerLen {
		t.Fatalf("EncodedLen with nil Params: got %d, want %d", len(buf), headerLen)
	}

	parsed, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if parsed.Params.Len() != 0 {
		t.Fatalf("Params.Len after parsing nil-params message: got %d, want 0", parsed.Params.Len())
	}
}

func TestBuildRejectsOversizedCommand(t *testing.T) {
	_, err := Build(Data, nodeid.ID(1), nodeid.ID(2), Command(maxCommand+1), nil)
	if err == nil {
		t.Fatalf("Build: expected error for command past maxCommand")
	}
}

func TestParseMessageRejectsShortBuffer(t *testing.T) {
	if _, err := ParseMessage([]byte{1, 2, 3}); err == nil {
		t.Fatalf("ParseMessage: expected error for a buffer shorter than the header")
	}
}

func TestCommandStringFallback(t *testing.T) {
	if got := Command(9999).String(); got == "" {
		t.Fatalf("Command.String: got empty string for an unnamed command")
	}
	if got := ServerHeartbeat.String(); got != "ServerHeartbeat" {
		t.Fatalf("Command.String: got %q, want %q", got, "ServerHeartbeat")
	}
}
