package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"

	rvg "github.com/CovidWA/remaining-vaccine"
)

// AWS Lambda wrapper, one bounded session per invocation

type ReserveEvent struct {
	Name string `json:"name"`
}

func runWithPanicTrap(ctx context.Context) (status int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
			} else if str, ok := r.(string); ok {
				err = errors.New(str)
			} else {
				err = fmt.Errorf("%v", r)
			}
			status = rvg.ExitFailure
		}
	}()

	args := []string{rvg.LambdaExeName, rvg.CommandRun}
	return rvg.RunContext(ctx, args), nil
}

func HandleRequest(ctx context.Context, evt ReserveEvent) (string, error) {
	status, err := runWithPanicTrap(ctx)
	if err != nil {
		return fmt.Sprintf("Execution finished with error: %s!", evt.Name), err
	}
	if status != rvg.ExitSuccess {
		return fmt.Sprintf("Execution finished without a reservation: %s (status %d)", evt.Name, status), nil
	}
	return fmt.Sprintf("Execution finished: %s!", evt.Name), nil
}

func main() {
	lambda.Start(HandleRequest)
}
