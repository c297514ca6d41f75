package config

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"aud_miner/log"
)

// Store is the shared configuration handle. Setters are visible to the next Snapshot
// and are written back to the file the store was loaded from.
type Store struct {
	mx   sync.RWMutex
	path string
	cfg  MinerConfig
}

// NewStore returns a store that only lives in memory.
func NewStore(cfg MinerConfig) *Store {
	return &Store{cfg: cfg}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Store, error) {
	cfg := Default()
	s := &Store{path: path, cfg: cfg}

	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config %s not found, using defaults", path)
			return s, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(buf, &s.cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return s, nil
}

func (s *Store) Snapshot() Settings {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.cfg.Settings
}

func (s *Store) Board() Board {
	s.mx.RLock()
	defer s.mx.RUnlock()
	b := s.cfg.Board
	b.PWMFans = append([]PWMFan(nil), s.cfg.Board.PWMFans...)
	return b
}

func (s *Store) update(fn func(*Settings)) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	fn(&s.cfg.Settings)
	if s.path == "" {
		return nil
	}

	buf, err := yaml.Marshal(&s.cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.WriteFile(s.path, buf, 0644); err != nil {
		return errors.Wrapf(err, "write config %s", s.path)
	}
	return nil
}

func (s *Store) SetFrequency(mhz float64) error {
	return s.update(func(st *Settings) { st.FrequencyMHz = mhz })
}

func (s *Store) SetCoreVoltage(mv uint16) error {
	return s.update(func(st *Settings) { st.CoreVoltageMV = mv })
}

func (s *Store) SetAutoFanSpeed(on bool) error {
	return s.update(func(st *Settings) { st.AutoFanSpeed = on })
}

func (s *Store) SetManualFanSpeed(pct uint16) error {
	return s.update(func(st *Settings) { st.ManualFanSpeed = pct })
}

func (s *Store) SetOverheatMode(on bool) error {
	return s.update(func(st *Settings) { st.OverheatMode = on })
}
