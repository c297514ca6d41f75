package config

// Settings are the runtime knobs. The control loops read a copy once per tick.
type Settings struct {
	FrequencyMHz   float64 `yaml:"frequency"`
	CoreVoltageMV  uint16  `yaml:"core_voltage"`
	TempTarget     float64 `yaml:"temp_target"`
	MinFanSpeed    uint16  `yaml:"min_fan_speed"`
	AutoFanSpeed   bool    `yaml:"auto_fan_speed"`
	ManualFanSpeed uint16  `yaml:"manual_fan_speed"`
	OverheatMode   bool    `yaml:"overheat_mode"`
	VersionMask    uint32  `yaml:"version_mask"`
	JobTransmit    bool    `yaml:"job_transmit"`
	APMode         bool    `yaml:"ap_mode"`
}

type PWMFan struct {
	Chip     int `yaml:"chip"`
	Channel  int `yaml:"channel"`
	TachoPin int `yaml:"tacho_pin"`
}

// Board describes the wiring of the controller board. It does not change at runtime.
type Board struct {
	BoardVersion string `yaml:"board_version"`
	DeviceModel  string `yaml:"device_model"`
	AsicModel    string `yaml:"asic_model"`

	UARTDevice string `yaml:"uart_device"`
	MaxBaud    int    `yaml:"max_baud"`
	ResetGPIO  int    `yaml:"reset_gpio"`
	I2CBus     int    `yaml:"i2c_bus"`

	FanDriver    string   `yaml:"fan_driver"`
	TachGpioChip string   `yaml:"tach_gpiochip"`
	PWMFans      []PWMFan `yaml:"pwm_fans"`

	TMP1075Addr   uint8   `yaml:"tmp1075_addr"`
	VRAddr        uint8   `yaml:"vr_addr"`
	EMCTempOffset float64 `yaml:"emc_temp_offset"`

	// Only used by custom boards; known board versions carry their own flags.
	EMCInternalTemp bool `yaml:"emc_internal_temp"`
	EMC2302         bool `yaml:"emc2302"`
	TPS546          bool `yaml:"tps546"`

	LogFile string `yaml:"log_file"`
}

type MinerConfig struct {
	Settings Settings `yaml:"settings"`
	Board    Board    `yaml:"board"`
}

const (
	FanDriverPWM     = "pwm"
	FanDriverEMC2302 = "emc2302"
)

func Default() MinerConfig {
	return MinerConfig{
		Settings: Settings{
			FrequencyMHz:   500,
			CoreVoltageMV:  1200,
			TempTarget:     60,
			MinFanSpeed:    25,
			AutoFanSpeed:   true,
			ManualFanSpeed: 100,
			VersionMask:    0x1fffe000,
		},
		Board: Board{
			BoardVersion: "100",
			DeviceModel:  "Fortune",
			AsicModel:    "AUD1123",
			UARTDevice:   "/dev/ttyS1",
			ResetGPIO:    335,
			I2CBus:       4,
			FanDriver:    FanDriverPWM,
			TachGpioChip: "gpiochip2",
			PWMFans:      []PWMFan{{Chip: 2, Channel: 0, TachoPin: 4}},
			TMP1075Addr:  0x48,
			VRAddr:       0x24,
		},
	}
}
