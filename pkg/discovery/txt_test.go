package discovery

import (
	"errors"
	"reflect"
	"testing"

	"github.com/backkem/protoorch/pkg/protocol"
)

func TestServiceTXT_Encode(t *testing.T) {
	tests := []struct {
		name string
		txt  ServiceTXT
		want []string
	}{
		{
			name: "tcp default",
			txt:  ServiceTXT{Protocol: "echo", Modes: 2, Handshake: protocol.HandshakeTwoWay},
			want: []string{"proto=echo", "modes=2", "hs=TwoWay", "tr=tcp"},
		},
		{
			name: "websocket with path",
			txt: ServiceTXT{
				Protocol:  "chat",
				Modes:     1,
				Handshake: protocol.HandshakeThreeWay,
				Transport: TransportWebSocket,
				Path:      "/ws",
			},
			want: []string{"proto=chat", "modes=1", "hs=ThreeWay", "tr=ws", "path=/ws"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.txt.Encode()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Encode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceTXT_Validate(t *testing.T) {
	long := make([]byte, MaxProtocolNameLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		txt  ServiceTXT
		want error
	}{
		{"valid", ServiceTXT{Protocol: "echo", Modes: 1}, nil},
		{"empty protocol", ServiceTXT{Modes: 1}, ErrInvalidProtocol},
		{"long protocol", ServiceTXT{Protocol: string(long), Modes: 1}, ErrInvalidProtocol},
		{"equals in protocol", ServiceTXT{Protocol: "a=b", Modes: 1}, ErrInvalidProtocol},
		{"no modes", ServiceTXT{Protocol: "echo"}, ErrInvalidModes},
		{"bad handshake", ServiceTXT{Protocol: "echo", Modes: 1, Handshake: 7}, ErrInvalidHandshake},
		{"bad transport", ServiceTXT{Protocol: "echo", Modes: 1, Transport: 9}, ErrInvalidTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.txt.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseServiceTXT(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		in := ServiceTXT{
			Protocol:  "echo",
			Modes:     2,
			Handshake: protocol.HandshakeThreeWay,
			Transport: TransportWebSocket,
			Path:      "/echo",
		}
		got, err := ParseServiceTXT(in.Encode())
		if err != nil {
			t.Fatalf("ParseServiceTXT() error = %v", err)
		}
		if *got != in {
			t.Errorf("ParseServiceTXT() = %+v, want %+v", *got, in)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		got, err := ParseServiceTXT([]string{"proto=echo"})
		if err != nil {
			t.Fatalf("ParseServiceTXT() error = %v", err)
		}
		if got.Modes != 1 || got.Handshake != protocol.HandshakeNone || got.Transport != TransportTCP {
			t.Errorf("ParseServiceTXT() = %+v", got)
		}
	})

	t.Run("case insensitive handshake", func(t *testing.T) {
		got, err := ParseServiceTXT([]string{"proto=echo", "hs=twoway"})
		if err != nil {
			t.Fatalf("ParseServiceTXT() error = %v", err)
		}
		if got.Handshake != protocol.HandshakeTwoWay {
			t.Errorf("Handshake = %v, want %v", got.Handshake, protocol.HandshakeTwoWay)
		}
	})

	errorTests := []struct {
		name    string
		records []string
		want    error
	}{
		{"missing protocol", []string{"modes=1"}, ErrInvalidTXTRecord},
		{"bad modes", []string{"proto=echo", "modes=x"}, ErrInvalidTXTRecord},
		{"zero modes", []string{"proto=echo", "modes=0"}, ErrInvalidModes},
		{"bad handshake", []string{"proto=echo", "hs=FourWay"}, ErrInvalidHandshake},
		{"bad transport", []string{"proto=echo", "tr=quic"}, ErrInvalidTransport},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseServiceTXT(tt.records); !errors.Is(err, tt.want) {
				t.Errorf("ParseServiceTXT() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"a=1", "b=", "=c", "novalue", "d=x=y"})
	want := map[string]string{"a": "1", "b": "", "d": "x=y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseTXT() = %v, want %v", got, want)
	}
}

func TestTXTFromProtocol(t *testing.T) {
	p := protocol.New("echo", protocol.NoHandshake(), protocol.NewMode(0, nil), protocol.NewMode(1, nil))
	got := TXTFromProtocol(p, TransportTCP)
	want := ServiceTXT{Protocol: "echo", Modes: 2, Handshake: protocol.HandshakeNone, Transport: TransportTCP}
	if got != want {
		t.Errorf("TXTFromProtocol() = %+v, want %+v", got, want)
	}
}

func TestTransportKind(t *testing.T) {
	for _, k := range []TransportKind{TransportTCP, TransportWebSocket} {
		if !k.IsValid() {
			t.Errorf("%v.IsValid() = false", k)
		}
		if got := ParseTransportKind(k.String()); got != k {
			t.Errorf("ParseTransportKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if TransportUnknown.IsValid() {
		t.Error("TransportUnknown.IsValid() = true")
	}
}
