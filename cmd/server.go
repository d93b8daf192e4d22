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
	"strings"

	"github.com/Daskott/guardian/dev/config"
	"github.com/Daskott/guardian/server"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/shared"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start a guardian server",
	Long: `The guardian server accepts SOS triggers over http, fans them out to
family members, call-only contacts and email contacts, and runs the email
queue jobs in the background.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := serverConfig()
		cobra.CheckErr(err)

		logg, err := logger.New(cfg.Log, isDevEnv)
		cobra.CheckErr(err)
		defer logg.Sync()

		cobra.CheckErr(server.Start(cfg, isDevEnv, logg))
	},
}

var serverConfigFile string

// secretEnvs are read from the environment, so they can stay out of the config file
var secretEnvs = map[string]string{
	"guardian.privateKeyPem":        "GUARDIAN_PRIVATE_KEY_PEM",
	"database.dsn":                  "DATABASE_URL",
	"redis.password":                "REDIS_PASSWORD",
	"twilio.accountSid":             "TWILIO_ACCOUNT_SID",
	"twilio.authToken":              "TWILIO_AUTH_TOKEN",
	"email.apiKey":                  "RESEND_API_KEY",
	"google.applicationCredentials": "GOOGLE_APPLICATION_CREDENTIALS",
}

func init() {
	rootCmd.AddCommand(serverCmd)

	rootCmd.PersistentFlags().StringVar(&serverConfigFile, "sconfig", "", "config file for the server, not needed with --dev")
}

// serverConfig reads the server config file, or the built-in dev config with --dev,
// lets env vars override it & validates the result.
func serverConfig() (shared.ServerConfig, error) {
	cfg := shared.ServerConfig{}
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range secretEnvs {
		if err := v.BindEnv(key, env); err != nil {
			return cfg, err
		}
	}

	switch {
	case isDevEnv:
		if err := v.ReadConfig(strings.NewReader(config.SERVER_YML)); err != nil {
			return cfg, formattedError("error reading dev server config: %v", err)
		}
	case serverConfigFile != "":
		v.SetConfigFile(serverConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, formattedError("error reading server config file: %v", err)
		}
	default:
		return cfg, formattedError("must set --sconfig or run with --dev")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, formattedError("invalid server config: %v", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, formattedError("invalid server config: %v", err)
	}

	return cfg.WithDefaults(), nil
}
