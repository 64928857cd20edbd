//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the engine on the Vulkan backend with anima.toml.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "anima.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Renders 300 frames on the software backend, without a display.
func (Run) Headless() error {
	fmt.Println("Run engine headless...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "anima.toml", "-backend", "software", "-frames", "300"), withStream()); err != nil {
		return err
	}
	return nil
}
