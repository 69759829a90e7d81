package main

import "github.com/lakefront/s3console/internal/cmd"

func main() {
	cmd.Execute()
}
