package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	thi "github.com/VaxHuntersCan/telus-health-importer/golang"
)

// AWS Lambda wrapper, invoked by a CloudWatch scheduled event.
//
// An invocation errors only when the run could not start at all (bad config,
// unreadable registry). Per-pharmacy failures are logged inside the run and
// picked up again on the next schedule tick.

func HandleRequest(ctx context.Context, evt events.CloudWatchEvent) (string, error) {
	config, err := thi.NewConfigDefaultPath()
	if err != nil {
		return "", fmt.Errorf("Can't read config: %v", err)
	}

	registry, err := thi.LoadRegistry(config.RegistryPath)
	if err != nil {
		return "", fmt.Errorf("Can't load registry: %v", err)
	}

	tracker := thi.Run(config, registry)

	return fmt.Sprintf("Execution finished: %s", tracker.Summary()), nil
}

func main() {
	lambda.Start(HandleRequest)
}
