package config

// MasterConfiguration holds the pairing engine settings.
type MasterConfiguration struct {
	// Address is the bind address, empty means all interfaces.
	Address string `yaml:"Address"`
	Port    uint16 `yaml:"Port"`
	// PairInterval is the pause between pairing attempts while either
	// intake queue is empty, in milliseconds.
	PairInterval int64 `yaml:"PairInterval"`
	// DialTimeout bounds the greeting read on a fresh connection, in
	// milliseconds.
	DialTimeout int64 `yaml:"DialTimeout"`
	// MaxLineSize caps a single protocol line in bytes, 0 means the
	// wire default.
	MaxLineSize int `yaml:"MaxLineSize"`
}
