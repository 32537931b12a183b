package main

import "labweb/process/sanitize"

func main() {
	sanitize.Run()
}
