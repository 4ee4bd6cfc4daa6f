package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"

	cmdinternal "github.com/scalemind/autoscalr/cmd/internal"
	"github.com/scalemind/autoscalr/internal/tracing"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	tp := tracing.InitOtelXrayTracer(ctx, logger, true)
	defer func(ctx context.Context) {
		err := tp.Shutdown(ctx)
		if err != nil {
			logger.Error("error shutting down tracer provider", "error", err)
		}
	}(ctx)

	handler := func(ctx context.Context) error {
		requestLogger := logger
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			requestLogger = requestLogger.With("aws_request_id", lc.AwsRequestID)
		}

		return cmdinternal.Handle(ctx, requestLogger)
	}

	lambda.Start(otellambda.InstrumentHandler(handler,
		otellambda.WithTracerProvider(tp),
		otellambda.WithFlusher(tp)))
}
