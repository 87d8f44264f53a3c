package serialmux

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		opts    PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "explicit values",
			opts: PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "even"},
			want: PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{
			name: "negative baud falls back",
			opts: PortOptions{BaudRate: -5},
			want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "lowercase odd",
			opts: PortOptions{Parity: " o "},
			want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "O"},
		},
		{name: "data bits too small", opts: PortOptions{DataBits: 4}, wantErr: true},
		{name: "data bits too large", opts: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", opts: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", opts: PortOptions{Parity: "mark"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_Mode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 19200, StopBits: 2, Parity: "O"}.Mode()
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode.BaudRate != 19200 || mode.DataBits != 8 {
		t.Errorf("Mode() = %+v, want 19200 baud 8 data bits", mode)
	}
	if mode.StopBits != TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}

	if _, err := (PortOptions{Parity: "X"}).Mode(); err == nil {
		t.Error("Mode() expected error for invalid parity")
	}
}

func TestPortOptions_String(t *testing.T) {
	if got := (PortOptions{}).String(); got != "9600 8N1" {
		t.Errorf("String() = %q, want %q", got, "9600 8N1")
	}
	if got := (PortOptions{BaudRate: 57600, DataBits: 7, Parity: "E", StopBits: 2}).String(); got != "57600 7E2" {
		t.Errorf("String() = %q, want %q", got, "57600 7E2")
	}
}

func TestToSerialMode(t *testing.T) {
	got := toSerialMode(&SerialPortMode{BaudRate: 9600, DataBits: 8, Parity: EvenParity, StopBits: TwoStopBits})
	if got.BaudRate != 9600 || got.DataBits != 8 {
		t.Errorf("toSerialMode() = %+v", got)
	}
	if got.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want serial.EvenParity", got.Parity)
	}
	if got.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want serial.TwoStopBits", got.StopBits)
	}

	def := toSerialMode(DefaultSerialPortMode())
	if def.Parity != serial.NoParity || def.StopBits != serial.OneStopBit {
		t.Errorf("default mode = %+v, want 8N1", def)
	}
}

func TestNewPortSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	mux, err := NewPortSerialMux(factory, "/dev/ttyACM0", PortOptions{})
	if err != nil {
		t.Fatalf("NewPortSerialMux() error = %v", err)
	}
	if mux.port != SerialPorter(port) {
		t.Error("mux should wrap the factory's port")
	}

	call := factory.LastCall()
	if call == nil {
		t.Fatal("factory.Open was not called")
	}
	if call.Path != "/dev/ttyACM0" {
		t.Errorf("Open path = %q, want /dev/ttyACM0", call.Path)
	}
	if *call.Mode != *DefaultSerialPortMode() {
		t.Errorf("Open mode = %+v, want default", call.Mode)
	}
}

func TestNewPortSerialMux_Errors(t *testing.T) {
	factory := NewMockSerialPortFactory(nil)
	if _, err := NewPortSerialMux(factory, "/dev/ttyACM0", PortOptions{StopBits: 5}); err == nil {
		t.Error("expected options error")
	}
	if len(factory.OpenCalls) != 0 {
		t.Error("invalid options must not open the port")
	}

	openErr := errors.New("no such device")
	factory.Error = openErr
	if _, err := NewPortSerialMux(factory, "/dev/ttyACM9", PortOptions{}); !errors.Is(err, openErr) {
		t.Errorf("error = %v, want %v", err, openErr)
	}
}

func TestSerialPortOpener(t *testing.T) {
	port := NewTestableSerialPort()
	var gotPath string
	opener := SerialPortOpener(func(path string, mode *SerialPortMode) (SerialPorter, error) {
		gotPath = path
		return port, nil
	})

	if _, err := NewPortSerialMux(opener, "/dev/ttyUSB0", PortOptions{}); err != nil {
		t.Fatalf("NewPortSerialMux() error = %v", err)
	}
	if gotPath != "/dev/ttyUSB0" {
		t.Errorf("opener path = %q", gotPath)
	}
}
