// Package config defines the YAML file format consumed by the neurotap
// binary.
package config

type Config struct {
	// Device selects the driver: "emulated" or "file". A non-empty
	// PlaybackLocation forces "file".
	Device           string `yaml:"device"`
	PlaybackLocation string `yaml:"playback_location"`
	RawDumpLocation  string `yaml:"raw_dump_location"`

	SampleRate float64 `yaml:"sample_rate"`
	// Mode is "normal", "test", "impedance" or "ledtest".
	Mode string `yaml:"mode"`

	ReferenceChannels []int `yaml:"reference_channels,flow"`
	MultipleReference bool  `yaml:"multiple_reference"`
	HideReference     bool  `yaml:"hide_reference"`

	BlockingRead  bool `yaml:"blocking_read"`
	QueueCapacity int  `yaml:"queue_capacity"`

	Emulation struct {
		Modules        int     `yaml:"modules"`
		BatteryVoltage float64 `yaml:"battery_voltage"`
	} `yaml:"emulation"`

	StatusServer struct {
		Port int `yaml:"port"`
	} `yaml:"status_server"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}
