package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/danl5/goquorum/pkg/config"
	"github.com/danl5/goquorum/pkg/election"
	"github.com/danl5/goquorum/pkg/executor"
)

var (
	outputPath = flag.String("o", "./fsm_visual", "output path")
)

func main() {
	flag.Parse()

	exec, err := executor.NewTaskExecutor(executor.NewNetworkMock(), slog.Default())
	if err != nil {
		panic(err)
	}
	defer func() {
		exec.Shutdown()
		exec.Join()
	}()

	e, err := election.NewElector(exec, &config.ReplicaConfig{
		SetName: "rs0",
		Version: 1,
		Members: []config.MemberConfig{
			{ID: 1, Host: "localhost:7856", Priority: 1},
		},
	}, 0, slog.Default())
	if err != nil {
		panic(err)
	}
	visualStr := e.Visualize()

	f, err := os.OpenFile(*outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	_, err = f.WriteString(visualStr)
	if err != nil {
		panic(err)
	}

	fmt.Println("Visualization finished")
}
