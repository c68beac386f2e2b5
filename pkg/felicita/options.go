package felicita

import (
	"time"

	"github.com/fako1024/scalelink/pkg/scale"
)

// BuzzerSetting denotes the buzzer state enforced upon connection
type BuzzerSetting string

const (

	// BuzzerSettingOn forces the buzzer on
	BuzzerSettingOn BuzzerSetting = "on"

	// BuzzerSettingOff forces the buzzer off
	BuzzerSettingOff BuzzerSetting = "off"
)

// WithBuzzerSetting forces the buzzer (on user interaction) to the given state once
// the first measurement has been received
func WithBuzzerSetting(setting BuzzerSetting) func(*Felicita) {
	return func(f *Felicita) {
		f.forceBuzzerSettingOnConnect = setting
	}
}

// WithConnectTimeout sets the maximum duration of a connection attempt
func WithConnectTimeout(timeout time.Duration) func(*Felicita) {
	return func(f *Felicita) {
		f.connectTimeout = timeout
	}
}

// WithDataTimeout sets the duration without measurements after which the connection
// is considered lost
func WithDataTimeout(timeout time.Duration) func(*Felicita) {
	return func(f *Felicita) {
		f.dataTimeout = timeout
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) func(*Felicita) {
	return func(f *Felicita) {
		f.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Felicita) {
	return func(f *Felicita) {
		f.logger = logger
	}
}
