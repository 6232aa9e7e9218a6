package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/floegence/snaprelay/internal/securefile"
	"github.com/floegence/snaprelay/pairing"
	"github.com/floegence/snaprelay/relay/protocol"
)

// errNoState is returned when a command needs the device state before init ran.
var errNoState = errors.New("no device state (run snapctl init)")

// deviceState is the persisted identity and current membership of this device.
// It contains the seed, so it is stored owner-only.
type deviceState struct {
	Identity   string        `json:"identity"`
	Role       protocol.Role `json:"role"`
	DeviceName string        `json:"device_name,omitempty"`
	Session    string        `json:"session"`
	Seed       string        `json:"seed,omitempty"`
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".snapctl", "state.json")
	}
	return filepath.Join(home, ".snapctl", "state.json")
}

func loadState(path string) (deviceState, error) {
	var st deviceState
	if err := securefile.Load(path, &st); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return deviceState{}, errNoState
		}
		return deviceState{}, err
	}
	if !protocol.ValidIdentity(st.Identity) {
		return deviceState{}, pairing.ErrInvalidIdentity
	}
	if _, ok := protocol.ParseRole(string(st.Role)); !ok {
		st.Role = protocol.RoleViewer
	}
	return st, nil
}

func saveState(path string, st deviceState) error {
	return securefile.Save(path, st)
}

func (st deviceState) membership() pairing.Membership {
	return pairing.Membership{Session: st.Session, Seed: st.Seed}
}

func (st deviceState) locator() pairing.Locator {
	return pairing.Locator{Session: st.Session, Identity: st.Identity, Seed: st.Seed}
}
