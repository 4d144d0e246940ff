package main

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	busName       = "org.freedesktop.package1"
	objectPath    = "/org/freedesktop/package1"
	interfaceName = "org.freedesktop.package1.Manager"

	errNoSuchPackage = "org.freedesktop.package1.NoSuchPackage"
)

// packageRef names one application package known to the daemon.
type packageRef struct {
	ID   uuid.UUID
	Name string
	Path string
}

// Manager answers name lookups over the system bus.
type Manager struct {
	mu       sync.RWMutex
	packages map[string]*packageRef
	log      logrus.FieldLogger
}

func newManager(log logrus.FieldLogger) *Manager {
	return &Manager{
		packages: make(map[string]*packageRef),
		log:      log,
	}
}

// load replaces the package map with the "packages" section of the
// configuration, a mapping of package name to image path.
func (m *Manager) load(v *viper.Viper) {
	entries := v.GetStringMapString("packages")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages = make(map[string]*packageRef, len(entries))
	for name, path := range entries {
		ref := &packageRef{ID: uuid.New(), Name: name, Path: path}
		m.packages[name] = ref
		m.log.WithFields(logrus.Fields{
			"ref":  ref.ID,
			"path": path,
		}).Debugf("registered package %q", name)
	}
}

// GetPackage resolves a package name to its image path. Exported on the
// system bus.
func (m *Manager) GetPackage(name string) (string, *dbus.Error) {
	m.mu.RLock()
	ref, ok := m.packages[name]
	m.mu.RUnlock()

	if !ok {
		m.log.Warnf("no package %q known", name)
		return "", dbus.NewError(errNoSuchPackage, []interface{}{name})
	}
	m.log.WithField("ref", ref.ID).Debugf("resolved package %q", name)
	return ref.Path, nil
}

// connect claims the well-known bus name and exports the manager object.
func (m *Manager) connect() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}

	if err := conn.Export(m, dbus.ObjectPath(objectPath), interfaceName); err != nil {
		_ = conn.Close()
		return nil, err
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, errNameTaken
	}
	return conn, nil
}
