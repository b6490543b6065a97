package main

import "github.com/skypro1111/osc-relay-service/cmd/osc-send/command"

func main() {
	command.Execute()
}
