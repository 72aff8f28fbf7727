package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/chaz8081/sandgarden/internal/ble"
	"github.com/chaz8081/sandgarden/internal/ble/protocol"
	"github.com/chaz8081/sandgarden/internal/client"
	"github.com/chaz8081/sandgarden/internal/discovery"
	"github.com/chaz8081/sandgarden/internal/scriptstore"
)

// httpTarget selects the garden a client command talks to.
type httpTarget struct {
	Host    string        `env:"SANDGARDEN_HOST" help:"Garden base URL, e.g. http://garden.local:8080 (found over mDNS if empty)"`
	Timeout time.Duration `default:"10s" help:"Per-request timeout"`
}

func (t httpTarget) client(ctx context.Context) (*client.Client, error) {
	base := t.Host
	if base == "" {
		gardens, err := discovery.Browse(ctx, 3*time.Second)
		if err != nil {
			return nil, err
		}
		if len(gardens) == 0 {
			return nil, errors.New("no garden found on the local network, pass --host")
		}
		base = gardens[0].BaseURL()
		fmt.Fprintf(os.Stderr, "Using %s at %s\n", gardens[0].Instance, base)
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return client.New(base, client.Options{Timeout: t.Timeout}), nil
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// StateCmd prints the settings as JSON.
type StateCmd struct {
	Target httpTarget `embed:""`
}

func (c *StateCmd) Run(globals *CLI) error {
	ctx, cancel := interruptContext()
	defer cancel()
	cl, err := c.Target.client(ctx)
	if err != nil {
		return err
	}
	st, err := cl.State(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

// SetCmd changes one setting. Values use the same text forms as the BLE
// characteristics: "1.5", "on"/"off", "255,128,0".
type SetCmd struct {
	Target  httpTarget `embed:""`
	Setting string     `arg:"" enum:"speed,pattern,mode,run,effect,color,brightness" help:"One of speed, pattern, mode, run, effect, color, brightness"`
	Value   string     `arg:"" help:"New value"`
}

func (c *SetCmd) Run(globals *CLI) error {
	ctx, cancel := interruptContext()
	defer cancel()
	cl, err := c.Target.client(ctx)
	if err != nil {
		return err
	}

	v := []byte(c.Value)
	switch c.Setting {
	case "speed":
		f, err := protocol.ParseFloat(v)
		if err != nil {
			return err
		}
		return cl.SetSpeed(ctx, f)
	case "pattern":
		n, err := protocol.ParseInt(v)
		if err != nil {
			return err
		}
		return cl.SetPattern(ctx, n)
	case "mode":
		b, err := protocol.ParseBool(v)
		if err != nil {
			return err
		}
		return cl.SetAutoMode(ctx, b)
	case "run":
		b, err := protocol.ParseBool(v)
		if err != nil {
			return err
		}
		return cl.SetRunState(ctx, b)
	case "effect":
		n, err := protocol.ParseUint8(v)
		if err != nil {
			return err
		}
		return cl.SetLedEffect(ctx, n)
	case "color":
		r, g, b, err := protocol.ParseColor(v)
		if err != nil {
			return err
		}
		return cl.SetLedColor(ctx, r, g, b)
	case "brightness":
		n, err := protocol.ParseUint8(v)
		if err != nil {
			return err
		}
		return cl.SetLedBrightness(ctx, n)
	}
	return fmt.Errorf("unknown setting %q", c.Setting)
}

// CommandCmd sends a generic command token.
type CommandCmd struct {
	Target httpTarget `embed:""`
	Token  string     `arg:"" help:"Command token, e.g. HOME, STOP, SELFTEST"`
}

func (c *CommandCmd) Run(globals *CLI) error {
	ctx, cancel := interruptContext()
	defer cancel()
	cl, err := c.Target.client(ctx)
	if err != nil {
		return err
	}
	return cl.Command(ctx, c.Token)
}

// UploadCmd sends a SandScript file.
type UploadCmd struct {
	Target  httpTarget    `embed:""`
	File    string        `arg:"" type:"existingfile" help:"SandScript file"`
	Slot    int           `default:"-1" help:"Target slot (-1 for none)"`
	BLE     bool          `name:"ble" help:"Upload over BLE instead of HTTP"`
	Device  string        `default:"Sand Garden" help:"BLE device name to look for"`
	Address string        `help:"BLE address; skips scanning"`
	MTU     int           `default:"185" help:"ATT MTU used to size BLE chunks"`
	Scan    time.Duration `default:"10s" help:"BLE scan duration"`
}

func (c *UploadCmd) Run(globals *CLI) error {
	script, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	ctx, cancel := interruptContext()
	defer cancel()

	start := time.Now()
	if c.BLE {
		err = c.uploadBLE(ctx, script)
	} else {
		var cl *client.Client
		cl, err = c.Target.client(ctx)
		if err == nil {
			err = cl.Upload(ctx, script, c.Slot)
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %d bytes in %s\n", len(script), time.Since(start).Round(time.Millisecond))
	return nil
}

func (c *UploadCmd) uploadBLE(ctx context.Context, script []byte) error {
	adapter := ble.NewCentralAdapter()
	address := c.Address
	if address == "" {
		scanCtx, cancel := context.WithTimeout(ctx, c.Scan)
		dev, err := ble.FindDevice(scanCtx, adapter, c.Device)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Found %q at %s (RSSI %d)\n", dev.Name, dev.Address, dev.RSSI)
		address = dev.Address
	}

	u := ble.NewUploader(adapter, address, ble.UploaderOptions{MTU: c.MTU})
	if err := u.Connect(ctx); err != nil {
		return err
	}
	defer u.Close()
	return u.Upload(ctx, script, c.Slot)
}

// WatchCmd prints events until interrupted.
type WatchCmd struct {
	Target httpTarget `embed:""`
}

func (c *WatchCmd) Run(globals *CLI) error {
	ctx, cancel := interruptContext()
	defer cancel()
	cl, err := c.Target.client(ctx)
	if err != nil {
		return err
	}
	return cl.Events(ctx, func(event, data string) {
		fmt.Printf("%s  %-13s %s\n", time.Now().Format("15:04:05.000"), event, data)
	})
}

// DiscoverCmd lists gardens answering over mDNS.
type DiscoverCmd struct {
	Wait time.Duration `default:"3s" help:"How long to listen for answers"`
}

func (c *DiscoverCmd) Run(globals *CLI) error {
	ctx, cancel := interruptContext()
	defer cancel()
	gardens, err := discovery.Browse(ctx, c.Wait)
	if err != nil {
		return err
	}
	if len(gardens) == 0 {
		fmt.Println("No gardens found")
		return nil
	}
	for _, g := range gardens {
		fmt.Printf("%-24s %s\n", g.Instance, g.BaseURL())
	}
	return nil
}

// ScriptsCmd manages the scripts stored by the local daemon.
type ScriptsCmd struct {
	List ScriptsListCmd `cmd:"" default:"1" help:"List stored scripts (default)"`
	Show ScriptsShowCmd `cmd:"" help:"Print a stored script"`
	Rm   ScriptsRmCmd   `cmd:"" help:"Delete a stored script"`
}

// ScriptsListCmd lists the stored scripts.
type ScriptsListCmd struct{}

func (c *ScriptsListCmd) Run(globals *CLI) error {
	store, err := openStore(globals)
	if err != nil {
		return err
	}
	return listScripts(os.Stdout, store)
}

// ScriptsShowCmd prints one stored script after checking its digest.
type ScriptsShowCmd struct {
	Slot string `arg:"" help:"Slot number, or 'pending'"`
}

func (c *ScriptsShowCmd) Run(globals *CLI) error {
	slot, err := parseSlot(c.Slot)
	if err != nil {
		return err
	}
	store, err := openStore(globals)
	if err != nil {
		return err
	}
	return showScript(os.Stdout, store, slot)
}

// ScriptsRmCmd deletes one stored script.
type ScriptsRmCmd struct {
	Slot string `arg:"" help:"Slot number, or 'pending'"`
}

func (c *ScriptsRmCmd) Run(globals *CLI) error {
	slot, err := parseSlot(c.Slot)
	if err != nil {
		return err
	}
	store, err := openStore(globals)
	if err != nil {
		return err
	}
	return removeScript(os.Stdout, store, slot)
}

func openStore(globals *CLI) (*scriptstore.Store, error) {
	cfg, err := loadConfig(globals.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return scriptstore.New(afero.NewOsFs(), cfg.Store.Dir, nil), nil
}

func listScripts(w io.Writer, store *scriptstore.Store) error {
	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "No scripts in %s\n", store.Dir())
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%-8s %6d bytes  %s  %s\n", slotName(e.Slot), e.Size, e.Digest[:12], e.Saved.Local().Format(time.DateTime))
	}
	return nil
}

func showScript(w io.Writer, store *scriptstore.Store, slot int) error {
	data, _, err := store.Load(slot)
	if err != nil {
		return fmt.Errorf("slot %s: %w", slotName(slot), err)
	}
	_, err = w.Write(data)
	return err
}

func removeScript(w io.Writer, store *scriptstore.Store, slot int) error {
	if err := store.Delete(slot); err != nil {
		return fmt.Errorf("slot %s: %w", slotName(slot), err)
	}
	fmt.Fprintf(w, "Deleted %s\n", slotName(slot))
	return nil
}

// parseSlot accepts a non-negative slot number or "pending".
func parseSlot(s string) (int, error) {
	if strings.EqualFold(s, "pending") {
		return scriptstore.NoSlot, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid slot %q: want a number or 'pending'", s)
	}
	return n, nil
}

func slotName(slot int) string {
	if slot == scriptstore.NoSlot {
		return "pending"
	}
	return strconv.Itoa(slot)
}
