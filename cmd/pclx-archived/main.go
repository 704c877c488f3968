package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/gb-murray/pcl-exchange/archive/grpccas"
	"github.com/gb-murray/pcl-exchange/archive/localfs"
	"github.com/gb-murray/pcl-exchange/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	fs := pflag.NewFlagSet("pclx-archived", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Config file (default $PCLX_CONFIG)")
	listen := fs.String("listen", "", "Listen address (default archive.address from config)")
	dir := fs.String("dir", "", "Block directory (default <archive.directory>/blocks)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	if *listen == "" {
		*listen = cfg.Archive.Address
	}
	if *dir == "" {
		*dir = filepath.Join(cfg.Archive.Directory, "blocks")
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("listen failed", zap.String("addr", *listen), zap.Error(err))
		return 1
	}
	if err := serve(ctx, lis, *dir, cfg.Archive.MaxMsgBytes, logger); err != nil {
		logger.Error("serve failed", zap.Error(err))
		return 1
	}
	return 0
}

// serve runs the CAS service on lis until ctx is done, then drains
// in-flight calls.
func serve(ctx context.Context, lis net.Listener, dir string, maxMsgBytes int, logger *zap.Logger) error {
	cas, err := localfs.New(dir)
	if err != nil {
		_ = lis.Close()
		return err
	}

	var opts []grpc.ServerOption
	if maxMsgBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(maxMsgBytes), grpc.MaxSendMsgSize(maxMsgBytes))
	}
	s := grpc.NewServer(opts...)
	grpccas.RegisterCASServer(s, &grpccas.Server{CAS: cas, Logger: logger.Named("cas")})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()
	logger.Info("archive listening", zap.String("addr", lis.Addr().String()), zap.String("dir", cas.Root()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		s.GracefulStop()
		return <-errCh
	}
}
