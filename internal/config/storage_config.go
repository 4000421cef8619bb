package config

import "path/filepath"

const (
	StorageBackendFile   = "file"
	StorageBackendSQLite = "sqlite"
	StorageBackendMemory = "memory"
)

type StorageConfig interface {
	GetStorageBackend() string
	GetDataFolder() string
	GetSQLitePath() string
	GetDeviceSecret() string
	GetSessionStorageKey() string
}

type Storage struct {
	Backend      string `env:"STORAGE_BACKEND" envDefault:"file"`
	DataFolder   string `env:"DATA_FOLDER" envDefault:"./data"`
	SQLitePath   string `env:"STORAGE_SQLITE_PATH"`
	DeviceSecret string `env:"DEVICE_SECRET"`
	SessionKey   string `env:"SESSION_STORAGE_KEY" envDefault:"auth.session"`
}

var _ StorageConfig = Storage{}

func (s Storage) GetStorageBackend() string {
	return s.Backend
}

func (s Storage) GetDataFolder() string {
	return s.DataFolder
}

// GetSQLitePath defaults to session.db inside the data folder.
func (s Storage) GetSQLitePath() string {
	if s.SQLitePath != "" {
		return s.SQLitePath
	}
	return filepath.Join(s.DataFolder, "session.db")
}

func (s Storage) GetDeviceSecret() string {
	return s.DeviceSecret
}

func (s Storage) GetSessionStorageKey() string {
	return s.SessionKey
}
