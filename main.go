package main

import (
	"log"

	"airadio/cmd"
)

func main() {
	cmd.Execute()
	log.Println("airadio command execution finished")
}
