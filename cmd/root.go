/*
Copyright © 2021 Edmond Cotterell

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const VERSION = "0.1.0"

var (
	envFile string

	isDevEnv  bool
	isTestEnv bool

	yellow       = color.New(color.FgYellow).SprintFunc()
	red          = color.New(color.FgRed).SprintFunc()
	warningLabel = yellow("Warning:")
)

// rootCmd represents the base command when called without any subcommands
var rootCmd *cobra.Command

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(loadEnvFile)

	rootCmd = createRootCmd()
	rootCmd.Version = fmt.Sprintf("v%s", VERSION)
}

func createRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "guardian",
		Short: `guardian fans out SOS alerts to the people who need to know.

When an SOS is triggered, guardian records the event, pushes a realtime alert
to the sender's family, calls their call-only contacts one after the other
until someone confirms, and emails every contact with an email address.`,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load before reading config (default is .env when present)")
	cmd.PersistentFlags().BoolVarP(&isDevEnv, "dev", "", false, "run in development mode")
	cmd.PersistentFlags().BoolVarP(&isTestEnv, "test", "", false, "run in test mode")

	return cmd
}

// loadEnvFile loads secrets like TWILIO_AUTHTOKEN from an env file, so they
// don't have to live in the config file. Variables already set win.
func loadEnvFile() {
	if envFile != "" {
		cobra.CheckErr(godotenv.Load(envFile))
		return
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintln(os.Stderr, warningLabel, err)
		}
	}
}

func formattedError(format string, a ...interface{}) error {
	return fmt.Errorf(red(format), a...)
}
