package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/can2shark/internal/capture"
	"github.com/bigbag/can2shark/internal/detect"
	"github.com/bigbag/can2shark/internal/extcap"
	"github.com/bigbag/can2shark/internal/pcap"
	"github.com/bigbag/can2shark/internal/protocol"
	"github.com/bigbag/can2shark/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	// Wireshark extcap protocol
	extcapInterfacesFlag bool
	extcapDLTsFlag       bool
	extcapConfigFlag     bool
	extcapInterfaceFlag  string
	extcapVersionFlag    string
	extcapFilterFlag     string
	captureFlag          bool
	fifoFlag             string

	portFlag     string
	baudFlag     int
	rawTTYFlag   bool
	logLevelFlag string
	windowFlag   time.Duration
	cborFlag     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "can2shark",
		Short: "Capture CAN frames from a serial adapter into Wireshark",
		Long: `can2shark reads the framed CAN stream sent by a serial adapter,
drops corrupted or misaligned frames, and writes every valid frame as a
SocketCAN pcap record.

Installed in Wireshark's extcap directory it shows up as the "wowcan"
interface. It can also write captures to a file or stdout directly:

  can2shark --capture --serial-port /dev/ttyACM0 --fifo out.pcap`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runRoot,
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&extcapInterfacesFlag, "extcap-interfaces", false, "List extcap interfaces")
	flags.BoolVar(&extcapDLTsFlag, "extcap-dlts", false, "List link types of --extcap-interface")
	flags.BoolVar(&extcapConfigFlag, "extcap-config", false, "List capture options of --extcap-interface")
	flags.StringVar(&extcapInterfaceFlag, "extcap-interface", "", "Interface to query or capture on")
	flags.StringVar(&extcapVersionFlag, "extcap-version", "", "Wireshark version (sent by Wireshark)")
	flags.Lookup("extcap-version").NoOptDefVal = "unknown"
	flags.StringVar(&extcapFilterFlag, "extcap-capture-filter", "", "Capture filter (ignored)")
	flags.BoolVar(&captureFlag, "capture", false, "Start capturing")
	flags.StringVar(&fifoFlag, "fifo", "", "Capture output: FIFO or file path, '-' or empty for stdout")
	flags.BoolVar(&rawTTYFlag, "raw-tty", false, "Drive the tty through termios directly (Linux)")

	persistent := rootCmd.PersistentFlags()
	persistent.StringVarP(&portFlag, "serial-port", "p", "", "Serial port (auto-detect if not specified)")
	persistent.IntVarP(&baudFlag, "baudrate", "b", protocol.DefaultBaudRate, "Baud rate")
	persistent.StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	// Scan command
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Find serial ports carrying CAN frames",
		Long:  "Listen on each serial port (or only --serial-port) and report those carrying valid frames.",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	scanCmd.Flags().DurationVarP(&windowFlag, "window", "w", detect.DefaultWindow, "How long to listen on each port")

	// Convert command
	convertCmd := &cobra.Command{
		Use:   "convert <raw.bin> <out.pcap>",
		Short: "Convert a recorded serial byte stream to a capture file",
		Long: `Run a recorded serial byte stream through the frame synchronizer and
write the valid frames as a capture file. Use '-' as the output to write to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: runConvert,
	}

	// Dump command
	dumpCmd := &cobra.Command{
		Use:   "dump <capture.pcap>",
		Short: "Print the CAN frames in a capture file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}
	dumpCmd.Flags().BoolVar(&cborFlag, "cbor", false, "Write a CBOR sequence instead of text")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("can2shark %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(listCmd, scanCmd, convertCmd, dumpCmd, versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if captureFlag {
		return runCapture(cmd)
	}

	logger, err := newLogger(logLevelFlag, os.Stderr)
	if err != nil {
		return err
	}
	handled, err := answerExtcap(os.Stdout, logger, serial.ListPorts)
	if handled {
		return err
	}
	return cmd.Help()
}

// answerExtcap writes the reply to a Wireshark query selected by the
// extcap flags. It reports false if no query flag was given.
func answerExtcap(w io.Writer, logger *slog.Logger, listPorts func() ([]serial.PortInfo, error)) (bool, error) {
	switch {
	case extcapInterfacesFlag:
		return true, extcap.Interfaces(w, version)
	case extcapDLTsFlag:
		return true, extcap.DLTs(w, extcapInterfaceFlag)
	case extcapConfigFlag:
		ports, err := listPorts()
		if err != nil {
			// Still announce the options; the port can be typed in.
			logger.Debug("failed to list serial ports", "error", err)
			ports = nil
		}
		return true, extcap.Config(w, extcapInterfaceFlag, ports)
	case extcapVersionFlag != "":
		_, err := fmt.Fprintln(w, version)
		return true, err
	default:
		return false, nil
	}
}

func runCapture(cmd *cobra.Command) error {
	logger, err := newLogger(logLevelFlag, os.Stderr)
	if err != nil {
		return err
	}

	if extcapInterfaceFlag != "" {
		if err := extcap.CheckInterface(extcapInterfaceFlag); err != nil {
			return err
		}
	}
	if extcapFilterFlag != "" {
		logger.Warn("capture filters are not supported, ignoring", "filter", extcapFilterFlag)
	}

	// Find or use specified port
	portName := portFlag
	if portName == "" {
		logger.Info("detecting device")
		result, err := detect.DetectDevice(baudFlag, detect.DefaultWindow)
		if err != nil {
			return fmt.Errorf("device detection failed: %w", err)
		}
		portName = result.Port
		logger.Info("found device", "port", result.Port, "frames", result.Frames)
	}

	src, err := openSource(portName, baudFlag, rawTTYFlag)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := capture.OpenSink(fifoFlag)
	if err != nil {
		return err
	}
	defer sink.Close()

	session, err := capture.New(src, sink, capture.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output := fifoFlag
	if output == "" {
		output = "stdout"
	}
	logger.Info("capture started", "port", portName, "baud", baudFlag, "raw", rawTTYFlag, "output", output)
	if extcapVersionFlag != "" {
		logger.Debug("started by wireshark", "version", extcapVersionFlag)
	}

	return session.Run(ctx)
}

func openSource(portName string, baudRate int, raw bool) (io.ReadCloser, error) {
	if raw {
		port, err := serial.OpenRaw(portName, baudRate)
		if err != nil {
			return nil, fmt.Errorf("failed to open port: %w", err)
		}
		return port, nil
	}
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}
	return port, nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		if desc := p.Description(); desc != "" {
			fmt.Printf("  %s\t%s\n", p.Name, desc)
		} else {
			fmt.Printf("  %s\n", p.Name)
		}
	}

	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if portFlag != "" {
		// Check specific port
		result, err := detect.DetectOnPort(portFlag, baudFlag, windowFlag)
		if err != nil {
			return fmt.Errorf("no frames on %s: %w", portFlag, err)
		}
		printResult(result)
		return nil
	}

	fmt.Println("Scanning serial ports for CAN frames...")
	devices, err := detect.ListDevices(baudFlag, windowFlag)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No ports carrying frames found")
		return nil
	}

	fmt.Printf("Found %d port(s):\n\n", len(devices))
	for _, d := range devices {
		printResult(&d)
		fmt.Println()
	}

	return nil
}

func printResult(r *detect.Result) {
	fmt.Printf("  Port:     %s\n", r.Port)
	if desc := r.Info.Description(); desc != "" {
		fmt.Printf("  Device:   %s\n", desc)
	}
	fmt.Printf("  Frames:   %d\n", r.Frames)
}

func runConvert(cmd *cobra.Command, args []string) error {
	inPath, outPath := args[0], args[1]

	logger, err := newLogger(logLevelFlag, os.Stderr)
	if err != nil {
		return err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat input: %w", err)
	}

	out, err := capture.OpenSink(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	session, err := capture.New(in, out, capture.WithLogger(logger), capture.WithReadSize(64*1024))
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(fi.Size(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	session.SetProgressCallback(func(bytesRead int64) {
		bar.Set64(bytesRead)
	})

	if err := session.Run(cmd.Context()); err != nil {
		return err
	}
	bar.Finish()

	st := session.Stats()
	fmt.Fprintf(os.Stderr, "Converted %d frames from %d bytes (%d bytes discarded, %d CRC errors)\n",
		st.Records, st.BytesRead, st.Framer.DiscardedBytes, st.Framer.CRCMismatches)
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	format := pcap.FormatText
	if cborFlag {
		format = pcap.FormatCBOR
	}

	if _, err := pcap.Dump(f, os.Stdout, format, extcap.Interface); err != nil {
		return fmt.Errorf("failed to dump %s: %w", args[0], err)
	}
	return nil
}
