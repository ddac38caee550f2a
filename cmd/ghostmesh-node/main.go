package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/user/ghostmesh/bridge"
	"github.com/user/ghostmesh/logger"
	"github.com/user/ghostmesh/mesh"
	"github.com/user/ghostmesh/mesh/packet"
	"github.com/user/ghostmesh/util"
	"github.com/user/ghostmesh/wire"
)

var (
	addressFlag  string
	nameFlag     string
	logLevelFlag string
	bridgeFlag   string
	hopLimitFlag uint8
)

var rootCmd = &cobra.Command{
	Use:   "ghostmesh-node",
	Short: "Run one mesh relay node on the simulated broadcast medium",
	RunE:  runNode,
}

func init() {
	rootCmd.Flags().StringVar(&addressFlag, "address", "", "40-bit node address in hex (random when empty)")
	rootCmd.Flags().StringVar(&nameFlag, "name", "", "human-readable node name for logs")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "TRACE, DEBUG, INFO, WARN or ERROR")
	rootCmd.Flags().StringVar(&bridgeFlag, "bridge-socket", "", "UI bridge socket path (default under the data dir)")
	rootCmd.Flags().Uint8Var(&hopLimitFlag, "hop-limit", mesh.DefaultHopLimit, "relay budget for originated messages")
}

func runNode(cmd *cobra.Command, args []string) error {
	if logLevelFlag != "" {
		logger.SetLevel(logger.ParseLevel(logLevelFlag))
	}

	addr, err := parseAddress(addressFlag)
	if err != nil {
		return err
	}

	config := mesh.DefaultConfig(addr)
	config.Name = nameFlag
	config.HopLimit = hopLimitFlag
	config.HardwareUUID = uuid.New().String()

	tr := wire.NewWire(config.HardwareUUID, uint64(addr), nil)
	node := mesh.NewNode(config, tr)

	bridgePath := bridgeFlag
	if bridgePath == "" {
		bridgePath = util.GetBridgeSocketPath(config.HardwareUUID)
	}
	srv := bridge.NewServer(node, bridgePath)

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()

	fmt.Printf("ghostmesh node %s up (bridge: %s)\n", addr, bridgePath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("shutting down")
	return nil
}

// parseAddress reads a hex node address, or allocates a random unicast one
func parseAddress(s string) (packet.Address, error) {
	if s == "" {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		return packet.Address(rng.Int63n(int64(packet.MaxAddress))) + 1, nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if packet.Address(v) > packet.MaxAddress {
		return 0, fmt.Errorf("address %q exceeds 40 bits or is the broadcast value", s)
	}
	return packet.Address(v), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
