package plan

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/gpib"
	"github.com/mklimuk/gpib/prologix"
)

func TestLoad(t *testing.T) {
	p, err := Load("testdata/five_in_one.yaml")
	require.NoError(t, err)

	assert.Equal(t, "192.168.0.10", p.Bridge.Host)
	assert.Equal(t, prologix.DefaultPort, p.Bridge.Port)
	assert.Equal(t, 3*time.Second, p.Bridge.Timeout)
	assert.Equal(t, prologix.DefaultSettleDelay, p.Bridge.SettleDelay)
	assert.Equal(t, 5*time.Second, p.Period)
	assert.Equal(t, DefaultTimeFormat, p.Output.TimeFormat)
	require.NotNil(t, p.Output.MQTT)
	assert.Equal(t, DefaultMQTTPort, p.Output.MQTT.Port)

	assert.Equal(t, []string{"T7", "T8", "C1"}, p.Columns())
	assert.Equal(t, ReadEOI, p.Readings[0].Read)
	assert.Equal(t, ReadNone, p.Readings[2].Read)
	assert.Equal(t, 200*time.Millisecond, p.Readings[2].Delay)
	require.NotNil(t, p.Readings[3].Round)
	assert.Equal(t, 7, *p.Readings[3].Round)

	d, ok := p.Device("k2015")
	require.True(t, ok)
	assert.Equal(t, 1, d.Address)
	assert.True(t, d.Clear)
	assert.Len(t, d.Setup, 7)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	p, err := Load("testdata/five_in_one.yaml")
	require.NoError(t, err)
	data, err := p.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 3s")

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

const minimal = `
bridge: {host: bridge.local}
devices:
  - {name: k740, address: 11}
readings:
  - {column: T7, device: k740, commands: [C07X]}
`

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		message string
	}{
		{"unknown key", [2]string{"bridge:", "brigde:"}, "brigde"},
		{"no host", [2]string{"host: bridge.local", "host: \"\""}, "bridge.host"},
		{"timeout above bridge limit", [2]string{"host: bridge.local", "host: bridge.local, timeout: 5s"}, "bridge.timeout"},
		{"negative period", [2]string{"devices:", "period: -1s\ndevices:"}, "period"},
		{"address out of range", [2]string{"address: 11", "address: 31"}, "k740"},
		{"duplicate device", [2]string{"readings:", "  - {name: k740, address: 12}\nreadings:"}, "duplicate device"},
		{"unknown device", [2]string{"device: k740", "device: k2015"}, "unknown device"},
		{"bad read mode", [2]string{"commands: [C07X]", "commands: [C07X], read: srq"}, "read must be"},
		{"read without column", [2]string{"column: T7, ", "read: eoi, "}, "needs a column"},
		{"no columns", [2]string{"column: T7, ", ""}, "at least one reading"},
		{"mqtt without topic", [2]string{"readings:", "output: {mqtt: {broker: localhost}}\nreadings:"}, "output.mqtt.topic"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc := strings.Replace(minimal, test.replace[0], test.replace[1], 1)
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidPlan)
			assert.Contains(t, err.Error(), test.message)
		})
	}
}

func TestParse_Minimal(t *testing.T) {
	p, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, DefaultPeriod, p.Period)
	assert.Empty(t, p.Output.CSV)
	assert.Nil(t, p.Output.MQTT)
}

func TestValue(t *testing.T) {
	seven := 7
	zero := 0
	fifteen := 15
	tests := []struct {
		name     string
		resp     string
		digits   *int
		expected any
	}{
		{"fixed point", "23.456000", nil, 23.456},
		{"exponent", "+1.23456789E-01", nil, 0.123456789},
		{"rounded", "+1.23456789E-01", &seven, 0.1234568},
		{"rounded to integer", "41.6", &zero, 42.0},
		{"text", "OVERFLOW", nil, "OVERFLOW"},
		{"empty", "", nil, ""},
		{"not a number", "NAN", nil, "NAN"},
		{"lower case nan", "nan", nil, "nan"},
		{"positive infinity", "+INF", nil, "+INF"},
		{"infinity", "-Infinity", nil, "-Infinity"},
		{"rounding would overflow", "1E300", &fifteen, 1e300},
		{"overflowing reply", "1E400", nil, "1E400"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Value(test.resp, test.digits)
			if f, ok := test.expected.(float64); ok {
				assert.InDelta(t, f, got, 1e-12)
				return
			}
			assert.Equal(t, test.expected, got)
		})
	}
}

func TestPlan_SetupAndSample(t *testing.T) {
	sim, err := prologix.StartSimulator("127.0.0.1:0", func(addr int, last string) (string, bool) {
		switch {
		case addr == 11 && last == "C07X":
			return "23.456000", true
		case addr == 11 && last == "C08X":
			return "24.5", true
		case addr == 1 && last == ":READ?":
			return "+1.23456789E-01", true
		}
		return "", false
	})
	require.NoError(t, err)
	defer sim.Close()

	p, err := Load("testdata/five_in_one.yaml")
	require.NoError(t, err)
	p.Bridge.Host, p.Bridge.Port = sim.HostPort()
	p.Readings[2].Delay = time.Millisecond

	bus := p.BusFactory(prologix.WithSettleDelay(0))()
	ctx := context.Background()
	require.NoError(t, bus.Open(ctx))
	defer bus.Close()

	require.NoError(t, p.Setup(ctx, bus))
	values, err := p.Sample(ctx, bus)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.InDelta(t, 23.456, values[0], 1e-9)
	assert.InDelta(t, 24.5, values[1], 1e-9)
	assert.InDelta(t, 0.1234568, values[2], 1e-12)

	var k2015 []string
	for _, f := range sim.Frames() {
		if f.Addr == 1 {
			k2015 = append(k2015, f.String())
		}
	}
	assert.Contains(t, k2015, "++clr")
	assert.Contains(t, k2015, `@1 ":FUNC 'VOLT:DC'"`)

	require.Eventually(t, func() bool { return len(sim.Commands()) == 26 }, time.Second, 5*time.Millisecond)
	var sampled []string
	for _, f := range sim.Commands()[21:] {
		sampled = append(sampled, f.Text)
	}
	assert.Equal(t, []string{"C07X", "C08X", "C01:1X", ":READ?", "N01:1X"}, sampled)
}

func TestPlan_SampleTimeout(t *testing.T) {
	sim, err := prologix.StartSimulator("127.0.0.1:0", func(int, string) (string, bool) {
		return "", false
	})
	require.NoError(t, err)
	defer sim.Close()

	p, err := Parse([]byte(minimal))
	require.NoError(t, err)
	p.Bridge.Host, p.Bridge.Port = sim.HostPort()
	p.Bridge.Timeout = 50 * time.Millisecond

	bus := p.BusFactory()()
	ctx := context.Background()
	require.NoError(t, bus.Open(ctx))
	defer bus.Close()

	_, err = p.Sample(ctx, bus)
	require.Error(t, err)
	assert.True(t, gpib.IsTimeout(err))
	assert.Contains(t, err.Error(), "k740: T7")
}
