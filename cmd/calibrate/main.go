package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/dpetrenko/drivetrace/internal/calibration"
	"github.com/dpetrenko/drivetrace/internal/canbus"
	"github.com/dpetrenko/drivetrace/internal/checksum"
	"github.com/dpetrenko/drivetrace/internal/uds"
)

var version = "dev" // Set by -ldflags during build

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	var err error
	switch command := os.Args[1]; command {
	case "info":
		err = runInfo(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "set":
		err = runSet(os.Args[2:])
	case "ecu-read":
		err = runEcuRead(os.Args[2:])
	case "ecu-write":
		err = runEcuWrite(os.Args[2:])
	case "version", "--version", "-V":
		fmt.Printf("calibrate version %s\n", version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func runInfo(args []string) error {
	flags := pflag.NewFlagSet("info", pflag.ExitOnError)
	file := flags.StringP("file", "f", "", "Calibration binary to inspect")
	checksumOffset := flags.Int("checksum-offset", calibration.DefaultChecksumOffset,
		"Checksum field offset (negative counts from the end)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	img, err := calibration.LoadFile(*file)
	if err != nil {
		return err
	}

	ok, err := img.Verify(*checksumOffset)
	if err != nil {
		return err
	}
	stored, err := img.StoredChecksum(*checksumOffset)
	if err != nil {
		return err
	}

	status := pterm.FgGreen.Sprint("valid")
	if !ok {
		status = pterm.FgRed.Sprint("INVALID")
	}

	pterm.DefaultSection.Println("Calibration image")
	pterm.Info.Printf("File:     %s\n", *file)
	pterm.Info.Printf("Size:     %d bytes\n", img.Len())
	pterm.Info.Printf("Checksum: 0x%08X (%s)\n", stored, status)
	return nil
}

func runVerify(args []string) error {
	flags := pflag.NewFlagSet("verify", pflag.ExitOnError)
	file := flags.StringP("file", "f", "", "Calibration binary to verify")
	checksumOffset := flags.Int("checksum-offset", calibration.DefaultChecksumOffset,
		"Checksum field offset (negative counts from the end)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	img, err := calibration.LoadFile(*file)
	if err != nil {
		return err
	}

	ok, err := img.Verify(*checksumOffset)
	if err != nil {
		return err
	}
	stored, err := img.StoredChecksum(*checksumOffset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("checksum mismatch: stored 0x%08X does not cover the payload", stored)
	}

	pterm.Success.Printf("Checksum 0x%08X verified\n", stored)
	return nil
}

func runSet(args []string) error {
	flags := pflag.NewFlagSet("set", pflag.ExitOnError)
	file := flags.StringP("file", "f", "", "Calibration binary to edit")
	offset := flags.String("offset", "", "Byte offset to write at (decimal or 0x hex)")
	value := flags.String("value", "", "Bytes to write, hex encoded (e.g. 1a2b3c)")
	checksumOffset := flags.Int("checksum-offset", calibration.DefaultChecksumOffset,
		"Checksum field offset (negative counts from the end)")
	noChecksum := flags.Bool("no-checksum", false, "Do not recompute the checksum on save")
	dryRun := flags.Bool("dry-run", false, "Show the change without writing")
	yes := flags.BoolP("yes", "y", false, "Skip the confirmation prompt")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" || *offset == "" || *value == "" {
		return fmt.Errorf("--file, --offset and --value are required")
	}

	at, err := strconv.ParseInt(strings.TrimSpace(*offset), 0, 64)
	if err != nil {
		return fmt.Errorf("parsing --offset: %w", err)
	}
	payload, err := hex.DecodeString(strings.TrimSpace(*value))
	if err != nil {
		return fmt.Errorf("parsing --value: %w", err)
	}

	img, err := calibration.LoadFile(*file)
	if err != nil {
		return err
	}

	current, err := img.Read(int(at), len(payload))
	if err != nil {
		return err
	}

	pterm.Warning.Println("Modifying ECU calibration can cause engine damage, unsafe driving conditions, warranty void, and legal issues.")
	pterm.Info.Printf("Offset 0x%X: % X -> % X\n", at, current, payload)

	if *dryRun {
		pterm.Warning.Println("DRY RUN - No changes made")
		return nil
	}

	if !*yes {
		confirmed, _ := pterm.DefaultInteractiveConfirm.Show("Write this change to file?")
		if !confirmed {
			pterm.Info.Println("Cancelled.")
			return nil
		}
	}

	backup, err := createBackup(*file)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}
	pterm.Success.Printf("Backup created: %s\n", backup)

	if err = img.Modify(int(at), payload); err != nil {
		return err
	}

	saveOpts := []calibration.SaveOption{calibration.WithChecksumOffset(*checksumOffset)}
	if *noChecksum {
		saveOpts = append(saveOpts, calibration.WithoutChecksumUpdate())
	}
	if err = img.Save(*file, saveOpts...); err != nil {
		return err
	}

	pterm.Success.Printf("Wrote %d byte(s) at 0x%X\n", len(payload), at)
	if !*noChecksum {
		pterm.Info.Printf("Checksum updated to 0x%08X\n", img.OriginalChecksum())
	}
	return nil
}

func runEcuRead(args []string) error {
	flags := pflag.NewFlagSet("ecu-read", pflag.ExitOnError)
	addr := flags.String("addr", "", "ECU memory address (decimal or 0x hex)")
	size := flags.Int("size", 0, "Number of bytes to read")
	out := flags.StringP("out", "o", "", "Write the bytes to this file instead of stdout")
	ecuFlags := addEcuFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *addr == "" || *size <= 0 {
		return fmt.Errorf("--addr and a positive --size are required")
	}

	address, err := strconv.ParseUint(strings.TrimSpace(*addr), 0, 32)
	if err != nil {
		return fmt.Errorf("parsing --addr: %w", err)
	}

	client := newEcuClient(ecuFlags)
	defer client.Close()

	result, err := client.ReadMemory(uint32(address), *size)
	if err != nil {
		return fmt.Errorf("reading ECU memory: %w", err)
	}

	if result.Degraded {
		pterm.Warning.Println("Degraded read: UDS unavailable, data is passively sniffed and padded. Do not trust byte positions.")
	} else {
		pterm.Success.Printf("Read %d byte(s) from 0x%X\n", len(result.Data), address)
	}

	if *out != "" {
		if err = os.WriteFile(*out, result.Data, 0644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		pterm.Info.Printf("Saved to %s (CRC32 0x%08X)\n", *out, checksum.CRC32(result.Data))
		return nil
	}

	fmt.Println(hex.Dump(result.Data))
	return nil
}

func runEcuWrite(args []string) error {
	flags := pflag.NewFlagSet("ecu-write", pflag.ExitOnError)
	addr := flags.String("addr", "", "ECU memory address (decimal or 0x hex)")
	value := flags.String("value", "", "Bytes to write, hex encoded")
	yes := flags.BoolP("yes", "y", false, "Skip the confirmation prompt")
	ecuFlags := addEcuFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *addr == "" || *value == "" {
		return fmt.Errorf("--addr and --value are required")
	}

	address, err := strconv.ParseUint(strings.TrimSpace(*addr), 0, 32)
	if err != nil {
		return fmt.Errorf("parsing --addr: %w", err)
	}
	payload, err := hex.DecodeString(strings.TrimSpace(*value))
	if err != nil {
		return fmt.Errorf("parsing --value: %w", err)
	}

	pterm.Warning.Println("Writing ECU memory on a live vehicle is dangerous.")
	if !*yes {
		confirmed, _ := pterm.DefaultInteractiveConfirm.Show(
			fmt.Sprintf("Write %d byte(s) to 0x%X?", len(payload), address))
		if !confirmed {
			pterm.Info.Println("Cancelled.")
			return nil
		}
	}

	client := newEcuClient(ecuFlags)
	defer client.Close()

	if err = client.WriteMemory(uint32(address), payload); err != nil {
		return fmt.Errorf("writing ECU memory: %w", err)
	}

	pterm.Success.Printf("Wrote %d byte(s) to 0x%X\n", len(payload), address)
	return nil
}

// ecuFlags collects the connection flags shared by the ECU commands.
type ecuFlags struct {
	iface      *string
	enableUDS  *bool
	requestID  *uint32
	responseID *uint32
	timeout    *time.Duration
}

func addEcuFlags(flags *pflag.FlagSet) ecuFlags {
	return ecuFlags{
		iface:      flags.StringP("interface", "i", "can0", "CAN network interface"),
		enableUDS:  flags.Bool("uds", true, "Use the UDS diagnostic session (disable for passive sniffing)"),
		requestID:  flags.Uint32("request-id", 0x7E0, "Arbitration ID the ECU listens on"),
		responseID: flags.Uint32("response-id", 0x7E8, "Arbitration ID the ECU answers from"),
		timeout:    flags.Duration("timeout", time.Second, "Per-request response timeout"),
	}
}

func newEcuClient(flags ecuFlags) *uds.Client {
	return uds.New(uds.Config{
		Bus:       canbus.Config{Interface: *flags.iface},
		EnableUDS: *flags.enableUDS,
		Session: uds.SessionConfig{
			RequestID:       *flags.requestID,
			ResponseID:      *flags.responseID,
			ResponseTimeout: *flags.timeout,
		},
	})
}

func createBackup(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}

	backupName := filename + ".backup_" + time.Now().Format("20060102_150405")
	if err = os.WriteFile(backupName, data, 0644); err != nil {
		return "", err
	}
	return backupName, nil
}

func printHelp() {
	fmt.Printf("calibrate - inspect and edit ECU calibration binaries and live ECU memory\n\n")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Printf("USAGE:\n")
	fmt.Printf("  calibrate info --file cal.bin\n")
	fmt.Printf("  calibrate verify --file cal.bin\n")
	fmt.Printf("  calibrate set --file cal.bin --offset 0x1A00 --value 2f\n")
	fmt.Printf("  calibrate ecu-read --addr 0x40001000 --size 64\n")
	fmt.Printf("  calibrate ecu-write --addr 0x40001000 --value 1a2b\n\n")
	fmt.Printf("COMMANDS:\n")
	fmt.Printf("  info       Show image size and checksum status\n")
	fmt.Printf("  verify     Exit non-zero unless the stored checksum covers the payload\n")
	fmt.Printf("  set        Overwrite bytes in an image, refresh the checksum, keep a backup\n")
	fmt.Printf("  ecu-read   Read ECU memory over UDS (falls back to passive sniffing)\n")
	fmt.Printf("  ecu-write  Write ECU memory over UDS (refused without a diagnostic session)\n")
	fmt.Printf("  version    Print the version and exit\n\n")
	fmt.Printf("Run 'calibrate COMMAND --help' for command flags.\n")
}
