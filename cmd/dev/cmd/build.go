package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary      = "dist/gpib"
	mainPackage = "./cmd/gpib"
	buildImage  = "gophertribe/gobuild:1.25-bookworm"
)

type target struct {
	os, arch string
}

func (t target) native() bool {
	return t.os == runtime.GOOS && t.arch == runtime.GOARCH
}

// BuildCmd builds the gpib binary. Foreign targets are built inside the build
// image, which calls this command again with --cross-os/--cross-arch.
func BuildCmd() *cobra.Command {
	var (
		host, cross target
		version     string
		noCache     bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build " + binary,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !host.native() {
				args := []string{"build", "--version", version, "--cross-os", host.os, "--cross-arch", host.arch}
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", host.os, host.arch), args, build.DockerBuildOpts{
					NoCache: noCache,
					Image:   buildImage,
				})
			}
			out := host
			if cross.os != "" && cross.arch != "" {
				out = cross
			}
			return build.GoBuild(binary, mainPackage, build.GoBuildOpts{
				Version:       version,
				InjectVersion: true,
				ConfigPackage: "main",
				OS:            out.os,
				Arch:          out.arch,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&version, "version", "latest", "version stamped into the binary")
	f.StringVar(&host.os, "os", runtime.GOOS, "target os")
	f.StringVar(&host.arch, "arch", runtime.GOARCH, "target arch")
	f.StringVar(&cross.os, "cross-os", "", "os to cross-compile for inside the build image")
	f.StringVar(&cross.arch, "cross-arch", "", "arch to cross-compile for inside the build image")
	f.BoolVar(&noCache, "no-cache", false, "build the image without cache")
	return cmd
}
