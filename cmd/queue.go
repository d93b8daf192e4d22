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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/Daskott/guardian/server/emailqueue"
	"github.com/Daskott/guardian/server/logger"
	"github.com/Daskott/guardian/server/mailer"
	"github.com/Daskott/guardian/server/models"
	"github.com/spf13/cobra"
)

var maxEmails int

// queueCmd groups the email queue maintenance commands. They talk to the
// database directly, so they work while the server is down.
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect & drive the email queue",
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Send due pending emails, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEmailQueue(func(q *emailqueue.Queue) (interface{}, error) {
			return q.ProcessQueue(context.Background(), maxEmails)
		})
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry failed emails that have retries left",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEmailQueue(func(q *emailqueue.Queue) (interface{}, error) {
			return q.RetryFailed(context.Background(), maxEmails)
		})
	},
}

var queueSendCmd = &cobra.Command{
	Use:   "send [email id]",
	Short: "Send one pending email right away",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return formattedError("invalid email id %q", args[0])
		}

		return withEmailQueue(func(q *emailqueue.Queue) (interface{}, error) {
			return q.SendSingle(context.Background(), uint(id))
		})
	},
}

var queueRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail emails stuck in processing past their lease, so they can be retried",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEmailQueue(func(q *emailqueue.Queue) (interface{}, error) {
			recovered, err := q.RecoverStuck(context.Background())
			return map[string]int64{"recovered": recovered}, err
		})
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count emails per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEmailQueue(func(q *emailqueue.Queue) (interface{}, error) {
			return q.Stats()
		})
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueProcessCmd, queueRetryCmd, queueSendCmd, queueRecoverCmd, queueStatsCmd)

	queueCmd.PersistentFlags().IntVarP(&maxEmails, "max", "m", 0, "max emails to handle, defaults to queue.batchSize")
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// withEmailQueue builds the queue from the server config, runs fn & prints its result as JSON
func withEmailQueue(fn func(q *emailqueue.Queue) (interface{}, error)) error {
	cfg, err := serverConfig()
	if err != nil {
		return err
	}

	logg, err := logger.New(cfg.Log, isDevEnv)
	if err != nil {
		return err
	}
	defer logg.Sync()

	store, err := models.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := mailer.NewProvider(cfg.Email, logg)
	if err != nil {
		return err
	}

	queue := emailqueue.New(store, provider, emailqueue.Options{
		BatchSize:       cfg.Queue.BatchSize,
		SendsPerSecond:  cfg.Queue.SendsPerSecond,
		ProcessingLease: cfg.Queue.ProcessingLease,
	}, logg)

	result, err := fn(queue)
	if err != nil {
		return formattedError("%v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
