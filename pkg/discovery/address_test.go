package discovery

import (
	"net"
	"strings"
	"testing"
)

func TestInstanceName(t *testing.T) {
	a, b := InstanceName("echo"), InstanceName("echo")
	if !strings.HasPrefix(a, "echo-") || len(a) != len("echo-")+12 {
		t.Errorf("InstanceName() = %q", a)
	}
	if a == b {
		t.Errorf("InstanceName() returned %q twice", a)
	}
	if got := InstanceName(""); len(got) != 12 {
		t.Errorf("InstanceName(\"\") = %q, want 12 characters", got)
	}
}

func TestSortIPsByPreference(t *testing.T) {
	in := []net.IP{
		net.ParseIP("::1"),
		net.ParseIP("fe80::1"),
		net.ParseIP("fd00::1"),
		net.ParseIP("192.168.1.10"),
		net.ParseIP("2001:db8::1"),
	}
	want := []string{"2001:db8::1", "192.168.1.10", "fd00::1", "fe80::1", "::1"}

	got := SortIPsByPreference(in)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if in[0].String() != "::1" {
		t.Error("SortIPsByPreference() modified its input")
	}
}

func TestSortIPsByPreference_Small(t *testing.T) {
	if got := SortIPsByPreference(nil); got != nil {
		t.Errorf("SortIPsByPreference(nil) = %v", got)
	}
	one := []net.IP{net.ParseIP("10.0.0.1")}
	if got := SortIPsByPreference(one); len(got) != 1 || !got[0].Equal(one[0]) {
		t.Errorf("SortIPsByPreference(one) = %v", got)
	}
	multi := []net.IP{net.ParseIP("ff02::fb"), net.ParseIP("127.0.0.1")}
	if got := SortIPsByPreference(multi); got[0].String() != "127.0.0.1" {
		t.Errorf("multicast sorted before loopback: %v", got)
	}
}

func TestResolvedService_URL(t *testing.T) {
	svc := ResolvedService{
		HostName: "host.local.",
		Port:     8080,
		IPs:      []net.IP{net.ParseIP("10.0.0.5")},
		TXT:      &ServiceTXT{Protocol: "echo", Modes: 1, Transport: TransportWebSocket, Path: "/ws"},
	}
	if got := svc.URL(); got != "ws://10.0.0.5:8080/ws" {
		t.Errorf("URL() = %q", got)
	}

	svc.TXT.Transport = TransportTCP
	if got := svc.URL(); got != "10.0.0.5:8080" {
		t.Errorf("URL() = %q", got)
	}

	svc.IPs = nil
	if got := svc.Addr(); got != "host.local.:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
