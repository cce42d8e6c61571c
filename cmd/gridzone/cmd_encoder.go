package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/gridzone/internal/encoder"
	"github.com/danielpatrickdp/gridzone/internal/logging"
)

var encoderAddr string

var encoderCmd = &cobra.Command{
	Use:   "encoder",
	Short: "Graph encoder service",
}

var encoderServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local propagation encoder over gRPC",
	Long: `Exposes the propagation encoder configured under encoder.* as the
GraphEncoder gRPC service, so training runs with encoder.kind=remote can share
one embedding process.`,
	RunE: runEncoderServe,
}

func init() {
	encoderServeCmd.Flags().StringVar(&encoderAddr, "addr", ":50051", "listen address")
	encoderCmd.AddCommand(encoderServeCmd)
}

func runEncoderServe(cmd *cobra.Command, _ []string) error {
	log := logging.New("encoder")
	enc, err := encoder.NewPropagation(cfg.PropagationConfig())
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", encoderAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", encoderAddr, err)
	}
	s := grpc.NewServer()
	encoder.RegisterServer(s, encoder.Serve(enc))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutting down encoder service")
		s.GracefulStop()
	}()

	log.Info("encoder service listening", "addr", lis.Addr().String(), "dim", enc.Dim())
	return s.Serve(lis)
}
