//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the race enabled tests of every package that does not need a display
// or a GPU.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1",
		"./engine/containers/...",
		"./engine/core/...",
		"./engine/config/...",
		"./engine/math/...",
		"./engine/platform/headless/...",
		"./engine/renderer",
		"./engine/renderer/gpu/...",
		"./engine/renderer/software/...",
		"./engine",
	), withEnv("CGO_ENABLED=1"), withStream())
	return err
}

// Runs the vulkan backend tests. Needs the Vulkan loader and the X11 headers.
func (Test) Vulkan() error {
	_, err := executeCmd("go", withArgs("test", "-count=1", "./engine/renderer/vulkan/..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
