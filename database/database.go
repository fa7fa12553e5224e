// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = InitLogger() // setup the logger

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxFields  []string
	Unique     bool
	Sparse     bool
}

// Collection names owned by the remediation engine
const (
	ColPlan       = "remediation_plan"
	ColExecution  = "execution"
	ColAssessment = "risk_assessment"
	ColSnapshot   = "snapshot"
	ColStage      = "deployment_stage"
	ColAudit      = "audit_log"
	ColPatch      = "patch"
	ColDecision   = "autonomous_decision"
	ColMetrics    = "metrics_hourly"
	ColMetadata   = "metadata"
)

// CollectionNames lists every document collection created at startup
var CollectionNames = []string{
	ColPlan, ColExecution, ColAssessment, ColSnapshot, ColStage,
	ColAudit, ColPatch, ColDecision, ColMetrics, ColMetadata,
}

var initDone = false          // has the data been initialized
var dbConnection DBConnection // database connection definition

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// InitLogger sets up the Zap Logger to log to the console in a human readable format
func InitLogger() *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	logger, _ := prodConfig.Build()
	return logger
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// indexes backs the dispatcher, the per-chain audit ordering and the hourly rollup scans
var indexes = []indexConfig{
	{Collection: ColPlan, IdxName: "plan_status", IdxFields: []string{"status"}},
	{Collection: ColPlan, IdxName: "plan_dispatch", IdxFields: []string{"status", "priority", "created_at"}},
	{Collection: ColPlan, IdxName: "plan_vulnerability", IdxFields: []string{"vulnerability_id"}},
	{Collection: ColPlan, IdxName: "plan_patch", IdxFields: []string{"patch_id"}},

	{Collection: ColExecution, IdxName: "execution_plan", IdxFields: []string{"plan_id"}},
	{Collection: ColExecution, IdxName: "execution_status", IdxFields: []string{"status"}},
	{Collection: ColExecution, IdxName: "execution_completed_at", IdxFields: []string{"completed_at"}, Sparse: true},

	{Collection: ColAssessment, IdxName: "assessment_plan", IdxFields: []string{"plan_id"}},
	{Collection: ColSnapshot, IdxName: "snapshot_execution", IdxFields: []string{"execution_id"}},
	{Collection: ColSnapshot, IdxName: "snapshot_status_expiry", IdxFields: []string{"status", "expires_at"}},
	{Collection: ColStage, IdxName: "stage_execution", IdxFields: []string{"execution_id", "stage_number"}},

	// One entry per (chain, sequence); concurrent appenders lose with a unique constraint violation
	{Collection: ColAudit, IdxName: "audit_chain_sequence", IdxFields: []string{"chain_id", "sequence"}, Unique: true},
	{Collection: ColAudit, IdxName: "audit_plan", IdxFields: []string{"plan_id"}},

	{Collection: ColDecision, IdxName: "decision_plan", IdxFields: []string{"plan_id"}},
	{Collection: ColDecision, IdxName: "decision_created_at", IdxFields: []string{"created_at"}},
	{Collection: ColMetrics, IdxName: "metrics_date_hour", IdxFields: []string{"date", "hour"}, Unique: true},
}

// InitializeDatabase is the function for connecting to the db engine, creating the database and collections
func InitializeDatabase() DBConnection {
	const initialInterval = 10 * time.Second
	const maxInterval = 2 * time.Minute

	var db arangodb.Database
	var collections map[string]arangodb.Collection

	ctx := context.Background()

	if initDone {
		return dbConnection
	}

	databaseName := GetEnvDefault("ARANGO_DATABASE", "remediation")
	dbhost := GetEnvDefault("ARANGO_HOST", "localhost")
	dbport := GetEnvDefault("ARANGO_PORT", "8529")
	dbuser := GetEnvDefault("ARANGO_USER", "root")
	dbpass := GetEnvDefault("ARANGO_PASS", "mypassword")
	dburl := GetEnvDefault("ARANGO_URL", "http://"+dbhost+":"+dbport)

	var client arangodb.Client

	//
	// Database connection with backoff retry
	//

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // Set to 0 for indefinite retries

	err := backoff.RetryNotify(func() error {
		logger.Info("Attempting to connect to ArangoDB", zap.String("url", dburl))
		endpoint := connection.NewRoundRobinEndpoints([]string{dburl})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, dbuser, dbpass))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(context.Background())
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'\n", versionInfo.Version, versionInfo.License)
		return nil

	}, bo, func(err error, wait time.Duration) {
		logger.Warn("Retrying connection to ArangoDB", zap.Error(err), zap.Duration("wait", wait))
	})

	if err != nil {
		logger.Sugar().Fatalf("Backoff Error %v\n", err)
	}

	//
	// Database creation
	//

	exists := false
	dblist, _ := client.Databases(ctx)

	for _, dbinfo := range dblist {
		if dbinfo.Name() == databaseName {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		if db, err = client.GetDatabase(ctx, databaseName, &options); err != nil {
			logger.Sugar().Fatalf("Failed to get Database: %v", err)
		}
	} else {
		if db, err = client.CreateDatabase(ctx, databaseName, nil); err != nil {
			logger.Sugar().Fatalf("Failed to create Database: %v", err)
		}
	}

	//
	// Collection creation for document storage
	//

	collections = make(map[string]arangodb.Collection)

	for _, collectionName := range CollectionNames {
		var col arangodb.Collection

		exists, _ = db.CollectionExists(ctx, collectionName)
		if exists {
			var options arangodb.GetCollectionOptions
			if col, err = db.GetCollection(ctx, collectionName, &options); err != nil {
				logger.Sugar().Fatalf("Failed to use collection: %v", err)
			}
		} else {
			if col, err = db.CreateCollectionV2(ctx, collectionName, nil); err != nil {
				logger.Sugar().Fatalf("Failed to create collection: %v", err)
			}
		}

		collections[collectionName] = col
	}

	//
	// Index creation
	//

	for _, idx := range indexes {
		if err := ensureIndex(ctx, collections[idx.Collection], idx); err != nil {
			logger.Sugar().Fatalln("Error creating index:", err)
		}
	}

	initDone = true

	dbConnection = DBConnection{
		Database:    db,
		Collections: collections,
	}

	return dbConnection
}

func ensureIndex(ctx context.Context, col arangodb.Collection, idx indexConfig) error {
	if existing, err := col.Indexes(ctx); err == nil {
		for _, index := range existing {
			if idx.IdxName == index.Name {
				return nil
			}
		}
	}

	unique := idx.Unique
	sparse := idx.Sparse
	indexOptions := arangodb.CreatePersistentIndexOptions{
		Unique: &unique,
		Sparse: &sparse,
		Name:   idx.IdxName,
	}

	if _, _, err := col.EnsurePersistentIndex(ctx, idx.IdxFields, &indexOptions); err != nil {
		return fmt.Errorf("index %s on %s: %w", idx.IdxName, idx.Collection, err)
	}
	logger.Sugar().Infof("Created index: %s on %s%v", idx.IdxName, idx.Collection, idx.IdxFields)
	return nil
}
