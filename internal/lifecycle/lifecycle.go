// Package lifecycle encodes the asset status machine enforced by the
// AssetManager contract.
//
// The ledger remains the source of truth. This table exists so callers can
// refuse a transition before spending a transaction on it, and so rejections
// carry a readable message.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("lifecycle: transition not allowed from current status")
	ErrUnauthorized      = errors.New("lifecycle: role may not perform action")
	ErrUnknownStatus     = errors.New("lifecycle: unknown status")
)

// Status mirrors the contract's AssetStatus enum.
type Status uint8

const (
	Operational Status = iota
	Broken
	UnderMaintenance
)

func (s Status) String() string {
	switch s {
	case Operational:
		return "Operational"
	case Broken:
		return "Broken"
	case UnderMaintenance:
		return "Under Maintenance"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText renders the ledger's string form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus accepts the strings returned by getAssetStatus.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.Join(strings.Fields(s), "")) {
	case "operational":
		return Operational, nil
	case "broken":
		return Broken, nil
	case "undermaintenance":
		return UnderMaintenance, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Action is a ledger call that may move an asset between statuses.
type Action string

const (
	ReportFault         Action = "reportFault"
	CancelFault         Action = "cancelFault"
	StartMaintenance    Action = "startMaintenance"
	ReplaceItem         Action = "replacePhysicalItem"
	CompleteMaintenance Action = "completeMaintenance"
)

// Role is the caller class the contract checks.
type Role string

const (
	RoleUser       Role = "user"
	RoleDetector   Role = "detector"
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
)

type edge struct {
	from   Status
	action Action
}

var transitions = map[edge]Status{
	{Operational, ReportFault}:              Broken,
	{Broken, CancelFault}:                   Operational,
	{Broken, StartMaintenance}:              UnderMaintenance,
	{UnderMaintenance, ReplaceItem}:         UnderMaintenance,
	{UnderMaintenance, CompleteMaintenance}: Operational,
}

var permissions = map[Action][]Role{
	ReportFault:         {RoleUser, RoleDetector},
	CancelFault:         {RoleAdmin},
	StartMaintenance:    {RoleTechnician},
	ReplaceItem:         {RoleTechnician},
	CompleteMaintenance: {RoleTechnician},
}

// actionOrder keeps Allowed deterministic.
var actionOrder = []Action{ReportFault, CancelFault, StartMaintenance, ReplaceItem, CompleteMaintenance}

// TransitionError reports a rejected (status, action) pair.
type TransitionError struct {
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot %s while asset is %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Next returns the status that follows applying action to from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[edge{from, action}]
	if !ok {
		return from, &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// Allowed lists the actions legal from status s.
func Allowed(s Status) []Action {
	var out []Action
	for _, a := range actionOrder {
		if _, ok := transitions[edge{s, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Authorize checks that role may invoke action at all.
func Authorize(role Role, action Action) error {
	for _, r := range permissions[action] {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot %s", ErrUnauthorized, role, action)
}

// Check combines Authorize and Next.
func Check(role Role, from Status, action Action) (Status, error) {
	if err := Authorize(role, action); err != nil {
		return from, err
	}
	return Next(from, action)
}
