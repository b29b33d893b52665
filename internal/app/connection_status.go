package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skobkin/reefdash/internal/config"
	"github.com/skobkin/reefdash/internal/connectors"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	if value := strings.TrimSpace(string(connector)); value != "" {
		return value
	}

	return "unknown"
}

// TransportLabel is the human readable name of a transport.
func TransportLabel(name string) string {
	switch name = strings.TrimSpace(name); strings.ToLower(name) {
	case "ip":
		return "IP"
	case "serial":
		return "Serial"
	case "":
		return "Unknown"
	default:
		return name
	}
}

// ConnectionTarget is host:port for ip and the device path for serial.
func ConnectionTarget(cfg config.ConnectionConfig) string {
	switch cfg.Connector {
	case config.ConnectorIP:
		if host := strings.TrimSpace(cfg.Host); host != "" {
			return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
		}
	case config.ConnectorSerial:
		return strings.TrimSpace(cfg.SerialPort)
	}

	return ""
}

// ConnectionStatusFromConfig is the status shown before the client reports
// anything: connecting when a target is configured, disconnected otherwise.
func ConnectionStatusFromConfig(cfg config.ConnectionConfig) connectors.ConnectionStatus {
	status := connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
	if status.Target != "" {
		status.State = connectors.ConnectionStateConnecting
	}

	return status
}

// DescribeConnectionStatus renders the target and, for a disconnect, its cause.
func DescribeConnectionStatus(status connectors.ConnectionStatus) string {
	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.State != connectors.ConnectionStateDisconnected {
		return details
	}
	if errText := strings.TrimSpace(status.Err); errText != "" {
		details = fmt.Sprintf("%s (error: %s)", details, errText)
	}

	return details
}
