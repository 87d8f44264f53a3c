package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/sonar.tracker/internal/httputil"
)

// SerialDeviceInfo describes a serial device found on the host.
type SerialDeviceInfo struct {
	PortPath     string `json:"port_path"`
	FriendlyName string `json:"friendly_name"`
	Active       bool   `json:"active"`
	LastSeen     int64  `json:"last_seen"`
}

// listSerialPorts is replaced in tests.
var listSerialPorts = serial.GetPortsList

// handleSerialDevices handles GET /api/serial/devices and lists the serial
// ports that could host the array controller.
func (s *Server) handleSerialDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ports, err := listSerialPorts()
	if err != nil {
		log.Printf("Error enumerating serial ports: %v", err)
		httputil.InternalServerError(w, "Failed to enumerate serial ports")
		return
	}

	devices := make([]SerialDeviceInfo, 0, len(ports))
	now := time.Now().Unix()
	for _, portPath := range ports {
		devices = append(devices, SerialDeviceInfo{
			PortPath:     portPath,
			FriendlyName: getFriendlyName(portPath),
			Active:       portPath == s.serialPort,
			LastSeen:     now,
		})
	}
	httputil.WriteJSONOK(w, devices)
}

// getFriendlyName generates a user-friendly name for a serial port.
func getFriendlyName(portPath string) string {
	parts := strings.Split(portPath, "/")
	deviceName := parts[len(parts)-1]
	if deviceName == "" {
		return portPath
	}

	switch {
	case strings.HasPrefix(deviceName, "ttyACM"):
		return fmt.Sprintf("Arduino / USB CDC Device (%s)", deviceName)
	case strings.HasPrefix(deviceName, "ttyUSB"):
		return fmt.Sprintf("USB Serial Adapter (%s)", deviceName)
	case strings.HasPrefix(deviceName, "cu.usbmodem"):
		return fmt.Sprintf("USB Modem (%s)", deviceName)
	case strings.HasPrefix(deviceName, "ttyAMA"):
		return fmt.Sprintf("Raspberry Pi Serial (%s)", deviceName)
	case strings.HasPrefix(deviceName, "COM"):
		return fmt.Sprintf("Windows COM Port (%s)", deviceName)
	default:
		return deviceName
	}
}
