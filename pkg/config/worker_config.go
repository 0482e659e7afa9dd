package config

// WorkerConfiguration holds the job-serving node settings.
type WorkerConfiguration struct {
	MasterAddress string `yaml:"MasterAddress"`
	MasterPort    uint16 `yaml:"MasterPort"`
	// DialTimeout bounds dials and single reads, in milliseconds.
	DialTimeout int64 `yaml:"DialTimeout"`
	// RetryInterval is the pause before re-dialing an unreachable
	// master, in milliseconds.
	RetryInterval int64 `yaml:"RetryInterval"`
}
