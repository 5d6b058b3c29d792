// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/devblok/vkframe/device"
	log "github.com/sirupsen/logrus"
)

var (
	debug  = flag.Bool("debug", false, "Enable validation layers")
	indent = flag.Bool("indent", false, "Indent the JSON output")
)

// Prints the physical devices the loader reports as JSON
func main() {
	flag.Parse()

	instance, err := device.NewInstance(device.DefaultApplicationInfo, nil, device.InstanceConfiguration{
		Debug: *debug,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create instance")
	}
	defer instance.Destroy()

	enc := json.NewEncoder(os.Stdout)
	if *indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(instance.PhysicalDevicesInfo()); err != nil {
		log.WithError(err).Error("failed to encode device info")
	}
}
