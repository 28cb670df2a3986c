// Package plan describes a measurement run in YAML: which bridge to use, how
// each instrument is configured once per session and which readings make up
// one sampling cycle.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/gpib"
	"github.com/mklimuk/gpib/prologix"
)

var ErrInvalidPlan = errors.New("plan: invalid measurement plan")

const (
	DefaultPeriod     = time.Second
	DefaultTimeFormat = "2006-01-02 15:04:05"
	DefaultMQTTPort   = 1883
)

// ReadMode selects how a reading fetches its value.
type ReadMode string

const (
	// ReadNone performs no read. It is the default for readings without a column.
	ReadNone ReadMode = ""
	// ReadEOI reads until the instrument asserts EOI.
	ReadEOI ReadMode = "eoi"
	// ReadLine reads until a line feed.
	ReadLine ReadMode = "line"
)

type Plan struct {
	Bridge      Bridge        `yaml:"bridge"`
	Period      time.Duration `yaml:"period"`
	MaxRestarts int           `yaml:"max_restarts,omitempty"`
	Devices     []Device      `yaml:"devices"`
	Readings    []Reading     `yaml:"readings"`
	Output      Output        `yaml:"output"`
}

type Bridge struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	IdleGap     time.Duration `yaml:"idle_gap"`
}

// Device is one instrument on the bus and the commands that configure it at
// the start of every session.
type Device struct {
	Name    string   `yaml:"name"`
	Address int      `yaml:"address"`
	Clear   bool     `yaml:"clear,omitempty"`
	Setup   []string `yaml:"setup,omitempty"`
}

// Reading is one step of a sampling cycle. Commands are written to the device
// in order, then after Delay the response is read into Column.
type Reading struct {
	Column   string        `yaml:"column,omitempty"`
	Device   string        `yaml:"device"`
	Commands []string      `yaml:"commands,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
	Read     ReadMode      `yaml:"read,omitempty"`
	// Round limits numeric values to the given number of decimal places.
	Round *int `yaml:"round,omitempty"`
}

type Output struct {
	// CSV is "-" for stdout, a file path, or empty to disable CSV output.
	CSV        string `yaml:"csv,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty"`
	MQTT       *MQTT  `yaml:"mqtt,omitempty"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain,omitempty"`
}

// Load reads, defaults and validates the plan stored at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML plan. Unknown keys are rejected.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal encodes the plan, defaults included.
func (p *Plan) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Plan) applyDefaults() {
	if p.Period == 0 {
		p.Period = DefaultPeriod
	}
	if p.Bridge.Port == 0 {
		p.Bridge.Port = prologix.DefaultPort
	}
	if p.Bridge.Timeout == 0 {
		p.Bridge.Timeout = prologix.DefaultTimeout
	}
	if p.Bridge.SettleDelay == 0 {
		p.Bridge.SettleDelay = prologix.DefaultSettleDelay
	}
	if p.Bridge.IdleGap == 0 {
		p.Bridge.IdleGap = prologix.DefaultIdleGap
	}
	if p.Output.TimeFormat == "" {
		p.Output.TimeFormat = DefaultTimeFormat
	}
	if m := p.Output.MQTT; m != nil && m.Port == 0 {
		m.Port = DefaultMQTTPort
	}
	for i := range p.Readings {
		if p.Readings[i].Column != "" && p.Readings[i].Read == ReadNone {
			p.Readings[i].Read = ReadEOI
		}
	}
}

func (p *Plan) Validate() error {
	if p.Bridge.Host == "" {
		return invalid("bridge.host is not specified")
	}
	if p.Bridge.Port <= 0 || p.Bridge.Port > 65535 {
		return invalid("bridge.port %d is out of range", p.Bridge.Port)
	}
	if err := prologix.ValidateTimeout(p.Bridge.Timeout); err != nil {
		return fmt.Errorf("%w: bridge.timeout: %w", ErrInvalidPlan, err)
	}
	if p.Bridge.SettleDelay < 0 || p.Bridge.IdleGap < 0 {
		return invalid("bridge delays must not be negative")
	}
	if p.Period <= 0 {
		return invalid("period must be positive, got %s", p.Period)
	}
	if p.MaxRestarts < 0 {
		return invalid("max_restarts must not be negative")
	}

	names := make(map[string]bool, len(p.Devices))
	for i, d := range p.Devices {
		if d.Name == "" {
			return invalid("devices[%d]: name is not specified", i)
		}
		if names[d.Name] {
			return invalid("devices[%d]: duplicate device name %q", i, d.Name)
		}
		names[d.Name] = true
		if err := gpib.ValidAddress(d.Address); err != nil {
			return fmt.Errorf("%w: device %q: %w", ErrInvalidPlan, d.Name, err)
		}
	}

	columns := make(map[string]bool)
	for i, r := range p.Readings {
		if !names[r.Device] {
			return invalid("readings[%d]: unknown device %q", i, r.Device)
		}
		if !slices.Contains([]ReadMode{ReadNone, ReadEOI, ReadLine}, r.Read) {
			return invalid("readings[%d]: read must be one of \"eoi\", \"line\" or empty, got %q", i, r.Read)
		}
		if r.Read != ReadNone && r.Column == "" {
			return invalid("readings[%d]: read %q needs a column", i, r.Read)
		}
		if r.Column == "" && len(r.Commands) == 0 {
			return invalid("readings[%d]: nothing to do", i)
		}
		if r.Delay < 0 {
			return invalid("readings[%d]: delay must not be negative", i)
		}
		if r.Round != nil && (*r.Round < 0 || *r.Round > 15) {
			return invalid("readings[%d]: round must be within [0, 15]", i)
		}
		if r.Column != "" {
			if columns[r.Column] {
				return invalid("readings[%d]: duplicate column %q", i, r.Column)
			}
			columns[r.Column] = true
		}
	}
	if len(columns) == 0 {
		return invalid("at least one reading needs a column")
	}

	if m := p.Output.MQTT; m != nil {
		if m.Broker == "" {
			return invalid("output.mqtt.broker is not specified")
		}
		if m.Topic == "" {
			return invalid("output.mqtt.topic is not specified")
		}
		if m.QoS > 2 {
			return invalid("output.mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}

// Columns returns the names of the values produced by Sample, in order.
func (p *Plan) Columns() []string {
	var cols []string
	for _, r := range p.Readings {
		if r.Column != "" {
			cols = append(cols, r.Column)
		}
	}
	return cols
}

// Device returns the device with the given name.
func (p *Plan) Device(name string) (Device, bool) {
	for _, d := range p.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// ControllerOptions translates the bridge section into controller options.
func (p *Plan) ControllerOptions() []prologix.Option {
	return []prologix.Option{
		prologix.WithPort(p.Bridge.Port),
		prologix.WithTimeout(p.Bridge.Timeout),
		prologix.WithSettleDelay(p.Bridge.SettleDelay),
		prologix.WithIdleGap(p.Bridge.IdleGap),
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPlan, fmt.Sprintf(format, args...))
}
