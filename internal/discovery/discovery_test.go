package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortOf(t *testing.T) {
	port, err := PortOf(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	port, err = PortOf("127.0.0.1:9001")
	require.NoError(t, err)
	assert.Equal(t, 9001, port)

	for _, bad := range []string{"8080", ":http", ":0", ""} {
		_, err := PortOf(bad)
		assert.Error(t, err, bad)
	}
}

func TestTxtRecords(t *testing.T) {
	assert.Equal(t, []string{"txtv=1"}, txtRecords(Options{}))
	assert.Equal(t,
		[]string{"txtv=1", "instance=abc", "broker=redis"},
		txtRecords(Options{Instance: "abc", Broker: "redis"}))
}

func TestInstanceName(t *testing.T) {
	name := instanceName("0123456789abcdef")
	assert.True(t, strings.HasPrefix(name, "realtime-"))
	assert.True(t, strings.HasSuffix(name, "-01234567"), name)
}

func TestPeerFrom(t *testing.T) {
	e := zeroconf.NewServiceEntry("realtime-a", DefaultService, DefaultDomain)
	e.HostName = "a.local."
	e.Port = 8080
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"txtv=1", "broker=redis"}

	p := peerFrom(e)
	assert.Equal(t, "realtime-a", p.Instance)
	assert.Equal(t, 8080, p.Port)
	assert.Equal(t, []string{"192.168.1.20"}, p.Addrs)
	assert.Equal(t, "redis", p.Text["broker"])
}

func TestWithDefaults(t *testing.T) {
	o := Options{Port: 1}.withDefaults()
	assert.Equal(t, DefaultService, o.Service)
	assert.Equal(t, DefaultDomain, o.Domain)
}
