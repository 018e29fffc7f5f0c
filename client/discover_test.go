package client

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantOK   bool
		wantAddr string
	}{
		{
			name: "IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Horcrux Test VM"},
				HostName:      "vm.local.",
				Port:          5900,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"version=3.8", "size=1024x768"},
			},
			wantOK:   true,
			wantAddr: "192.168.4.16:5900",
		},
		{
			name: "IPv6 fallback",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "v6"},
				Port:          5901,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			wantOK:   true,
			wantAddr: "[fe80::1]:5901",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "ghost"},
				Port:          5900,
			},
			wantOK: false,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "portless"},
				AddrIPv4:      []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ok := parseServiceEntry(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got := svc.Address(); got != tt.wantAddr {
				t.Errorf("Address() = %q, want %q", got, tt.wantAddr)
			}
			if svc.Instance != tt.entry.Instance {
				t.Errorf("Instance = %q, want %q", svc.Instance, tt.entry.Instance)
			}
		})
	}
}

func TestParseServiceEntryText(t *testing.T) {
	svc, ok := parseServiceEntry(&zeroconf.ServiceEntry{
		Port:     5900,
		AddrIPv4: []net.IP{net.ParseIP("127.0.0.1")},
		Text:     []string{"version=3.8", "flag", "size=1024x768"},
	})
	if !ok {
		t.Fatal("parseServiceEntry() rejected a valid entry")
	}

	want := map[string]string{"version": "3.8", "flag": "", "size": "1024x768"}
	for k, v := range want {
		if got, present := svc.Text[k]; !present || got != v {
			t.Errorf("Text[%q] = %q (present %v), want %q", k, got, present, v)
		}
	}
}
