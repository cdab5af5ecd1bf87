package game

import "fmt"

// CommandKind names a participant-issued command.
type CommandKind uint8

const (
	CommandBuild CommandKind = iota + 1
	CommandAttack
	CommandPause
	CommandResume
	CommandSurrender
	CommandReady
	CommandDisconnect
	CommandLocation
	CommandLatency
	CommandResources
)

var commandNames = []string{
	CommandBuild:      "build",
	CommandAttack:     "attack",
	CommandPause:      "pause",
	CommandResume:     "resume",
	CommandSurrender:  "surrender",
	CommandReady:      "ready",
	CommandDisconnect: "disconnect",
	CommandLocation:   "location",
	CommandLatency:    "latency",
	CommandResources:  "resources",
}

func (k CommandKind) String() string { return nameOf(commandNames, uint8(k), "command") }

func (k CommandKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CommandKind) UnmarshalText(text []byte) error {
	v, err := parseName(commandNames, text, "command")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	*k = CommandKind(v)
	return nil
}

// Command is a participant request. Issuer is always the sender's own id;
// the transport layer sets it, never the payload.
type Command struct {
	Kind      CommandKind `json:"command"`
	Issuer    int         `json:"-"`
	Target    int         `json:"target,omitempty"`
	Material  Material    `json:"material,omitempty"`
	Damage    float64     `json:"damage,omitempty"`
	Ready     bool        `json:"ready,omitempty"`
	Location  Location    `json:"location,omitempty"`
	LatencyMs float64     `json:"latencyMs,omitempty"`
	Amount    int         `json:"amount,omitempty"`
}

// Execute validates and applies a command.
func (s *Session) Execute(cmd Command) error {
	switch cmd.Kind {
	case CommandBuild:
		return s.BuildDike(cmd.Issuer, cmd.Material)
	case CommandAttack:
		return s.AttackDike(cmd.Issuer, cmd.Target, cmd.Damage)
	case CommandPause:
		return s.RequestPause(cmd.Issuer)
	case CommandResume:
		return s.RequestResume(cmd.Issuer)
	case CommandSurrender:
		return s.Surrender(cmd.Issuer)
	case CommandReady:
		return s.SetReady(cmd.Issuer, cmd.Ready)
	case CommandDisconnect:
		return s.Disconnect(cmd.Issuer)
	case CommandLocation:
		return s.UpdateLocation(cmd.Issuer, cmd.Location)
	case CommandLatency:
		return s.ReportLatency(cmd.Issuer, cmd.LatencyMs)
	case CommandResources:
		return s.RecordResources(cmd.Issuer, cmd.Amount)
	}
	return s.reject(cmd.Kind.String(), cmd.Issuer, fmt.Errorf("%w: unknown kind %d", ErrInvalidCommand, cmd.Kind))
}
