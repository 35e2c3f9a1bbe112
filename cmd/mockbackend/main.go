package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/model-arena/model-arena/test/mockbackend"
)

func main() {
	addr := flag.String("addr", ":8000", "Server address")
	model := flag.String("model", "mock-model", "Model name to advertise")
	flag.Parse()

	state := mockbackend.NewState(*model)
	server := mockbackend.NewServer(state)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock backend...")
		os.Exit(0)
	}()

	log.Printf("Starting mock backend %q on %s", *model, *addr)
	if err := server.Run(*addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
