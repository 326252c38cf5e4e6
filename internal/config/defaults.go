package config

import "time"

// Default configuration values.
const (
	DefaultLogLevel               = "info"
	DefaultPIDFile                = "/run/pxebootd.pid"
	DefaultTFTPRoot               = "/var/lib/tftpboot"
	DefaultTFTPListen             = "0.0.0.0:69"
	DefaultDHCPListen             = "0.0.0.0:67"
	DefaultMetricsListen          = "127.0.0.1:9100"
	DefaultEventBufferSize        = 4096
	DefaultRateLimitDiscovers     = 100
	DefaultRateLimitPerMAC        = 5
	DefaultRetransmitTimeout      = 2 * time.Second
	DefaultRetransmitRetries      = 5
	DefaultBlockSize              = 512
	DefaultMaxBlockSize           = 1468
	DefaultWindowSize             = 1
	DefaultTransferIdleTimeout    = 10 * time.Second
)
