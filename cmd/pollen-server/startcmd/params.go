/*
Copyright Pollen Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pollenhq/pollen/internal/pkg/cmdutil"
)

const (
	defaultPageSize                = 50
	defaultMaxRecipients           = 100
	defaultDeliveryCheckInterval   = 30 * time.Second
	defaultDeliveryMaxRetries      = 5
	defaultNodeInfoRefreshInterval = 15 * time.Second

	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the pollen-server instance on. Format: HostName:Port. " +
		commonEnvVarUsageText + hostURLEnvKey
	hostURLEnvKey = "POLLEN_HOST_URL"

	externalEndpointFlagName      = "external-endpoint"
	externalEndpointFlagShorthand = "e"
	externalEndpointFlagUsage     = "External endpoint that clients use to invoke services." +
		" This endpoint is used to generate the IDs of actors, activities and objects and" +
		" should be resolvable by external clients. Format: Scheme://HostName[:Port]. " +
		commonEnvVarUsageText + externalEndpointEnvKey
	externalEndpointEnvKey = "POLLEN_EXTERNAL_ENDPOINT"

	serviceNameFlagName  = "service-name"
	serviceNameFlagUsage = "The name of this service instance. " + commonEnvVarUsageText + serviceNameEnvKey
	serviceNameEnvKey    = "POLLEN_SERVICE_NAME"

	tlsCertificateFlagName      = "tls-certificate"
	tlsCertificateFlagShorthand = "y"
	tlsCertificateFlagUsage     = "TLS certificate for the pollen server. " +
		commonEnvVarUsageText + tlsCertificateEnvKey
	tlsCertificateEnvKey = "POLLEN_TLS_CERTIFICATE"

	tlsKeyFlagName      = "tls-key"
	tlsKeyFlagShorthand = "x"
	tlsKeyFlagUsage     = "TLS key for the pollen server. " + commonEnvVarUsageText + tlsKeyEnvKey
	tlsKeyEnvKey        = "POLLEN_TLS_KEY"

	tokenFlagName  = "api-token"
	tokenEnvKey    = "POLLEN_API_TOKEN" //nolint: gosec
	tokenFlagUsage = "Check for bearer token in the authorization header on private endpoints (optional). " +
		commonEnvVarUsageText + tokenEnvKey

	pageSizeFlagName  = "page-size"
	pageSizeEnvKey    = "POLLEN_PAGE_SIZE"
	pageSizeFlagUsage = "The maximum number of items per collection page. " +
		commonEnvVarUsageText + pageSizeEnvKey

	maxRecipientsFlagName  = "max-recipients"
	maxRecipientsEnvKey    = "POLLEN_MAX_RECIPIENTS"
	maxRecipientsFlagUsage = "The maximum number of recipients to which a single activity is delivered. " +
		commonEnvVarUsageText + maxRecipientsEnvKey

	deliveryCheckIntervalFlagName  = "delivery-check-interval"
	deliveryCheckIntervalEnvKey    = "POLLEN_DELIVERY_CHECK_INTERVAL"
	deliveryCheckIntervalFlagUsage = "How often the delivery worker checks the queue for due items." +
		" For example, 30s for a 30 second interval. " + commonEnvVarUsageText + deliveryCheckIntervalEnvKey

	deliveryMaxRetriesFlagName  = "delivery-max-retries"
	deliveryMaxRetriesEnvKey    = "POLLEN_DELIVERY_MAX_RETRIES"
	deliveryMaxRetriesFlagUsage = "The maximum number of delivery attempts before an item is marked dead. " +
		commonEnvVarUsageText + deliveryMaxRetriesEnvKey

	nodeInfoRefreshIntervalFlagName  = "nodeinfo-refresh-interval"
	nodeInfoRefreshIntervalEnvKey    = "POLLEN_NODEINFO_REFRESH_INTERVAL"
	nodeInfoRefreshIntervalFlagUsage = "How often the NodeInfo statistics are recalculated." +
		" For example, 15s for a 15 second interval. " + commonEnvVarUsageText + nodeInfoRefreshIntervalEnvKey

	maintenanceModeFlagName  = "maintenance-mode"
	maintenanceModeEnvKey    = "POLLEN_MAINTENANCE_MODE"
	maintenanceModeFlagUsage = "Run the server in maintenance mode, responding with 503 on all endpoints" +
		" except the health check. Possible values [true] [false]. Defaults to false. " +
		commonEnvVarUsageText + maintenanceModeEnvKey
)

type serverParameters struct {
	hostURL                 string
	externalEndpoint        string
	serviceName             string
	tlsCertificate          string
	tlsKey                  string
	token                   string
	pageSize                int
	maxRecipients           int
	deliveryCheckInterval   time.Duration
	deliveryMaxRetries      int
	nodeInfoRefreshInterval time.Duration
	maintenanceMode         bool
	logLevel                string
}

//nolint:funlen,gocyclo
func getServerParameters(cmd *cobra.Command) (*serverParameters, error) {
	hostURL, err := cmdutil.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	externalEndpoint, err := cmdutil.GetUserSetVarFromString(cmd, externalEndpointFlagName, externalEndpointEnvKey, true)
	if err != nil {
		return nil, err
	}

	if externalEndpoint == "" {
		externalEndpoint = hostURL
	}

	serviceName, err := cmdutil.GetUserSetVarFromString(cmd, serviceNameFlagName, serviceNameEnvKey, true)
	if err != nil {
		return nil, err
	}

	if serviceName == "" {
		serviceName = "pollen"
	}

	tlsCertificate, err := cmdutil.GetUserSetVarFromString(cmd, tlsCertificateFlagName, tlsCertificateEnvKey, true)
	if err != nil {
		return nil, err
	}

	tlsKey, err := cmdutil.GetUserSetVarFromString(cmd, tlsKeyFlagName, tlsKeyEnvKey, true)
	if err != nil {
		return nil, err
	}

	token, err := cmdutil.GetUserSetVarFromString(cmd, tokenFlagName, tokenEnvKey, true)
	if err != nil {
		return nil, err
	}

	pageSize, err := getIntParameter(cmd, pageSizeFlagName, pageSizeEnvKey, defaultPageSize)
	if err != nil {
		return nil, err
	}

	maxRecipients, err := getIntParameter(cmd, maxRecipientsFlagName, maxRecipientsEnvKey, defaultMaxRecipients)
	if err != nil {
		return nil, err
	}

	deliveryCheckInterval, err := getDurationParameter(cmd, deliveryCheckIntervalFlagName,
		deliveryCheckIntervalEnvKey, defaultDeliveryCheckInterval)
	if err != nil {
		return nil, err
	}

	deliveryMaxRetries, err := getIntParameter(cmd, deliveryMaxRetriesFlagName,
		deliveryMaxRetriesEnvKey, defaultDeliveryMaxRetries)
	if err != nil {
		return nil, err
	}

	nodeInfoRefreshInterval, err := getDurationParameter(cmd, nodeInfoRefreshIntervalFlagName,
		nodeInfoRefreshIntervalEnvKey, defaultNodeInfoRefreshInterval)
	if err != nil {
		return nil, err
	}

	maintenanceMode, err := getBoolParameter(cmd, maintenanceModeFlagName, maintenanceModeEnvKey)
	if err != nil {
		return nil, err
	}

	logLevel, err := cmdutil.GetUserSetVarFromString(cmd, LogLevelFlagName, LogLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	return &serverParameters{
		hostURL:                 hostURL,
		externalEndpoint:        externalEndpoint,
		serviceName:             serviceName,
		tlsCertificate:          tlsCertificate,
		tlsKey:                  tlsKey,
		token:                   token,
		pageSize:                pageSize,
		maxRecipients:           maxRecipients,
		deliveryCheckInterval:   deliveryCheckInterval,
		deliveryMaxRetries:      deliveryMaxRetries,
		nodeInfoRefreshInterval: nodeInfoRefreshInterval,
		maintenanceMode:         maintenanceMode,
		logLevel:                logLevel,
	}, nil
}

func getIntParameter(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	str, err := cmdutil.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

func getDurationParameter(cmd *cobra.Command, flagName, envKey string,
	defaultValue time.Duration) (time.Duration, error) {
	str, err := cmdutil.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if str == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

func getBoolParameter(cmd *cobra.Command, flagName, envKey string) (bool, error) {
	str, err := cmdutil.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return false, err
	}

	if str == "" {
		return false, nil
	}

	value, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s [%s]: %w", flagName, str, err)
	}

	return value, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(externalEndpointFlagName, externalEndpointFlagShorthand, "", externalEndpointFlagUsage)
	startCmd.Flags().StringP(serviceNameFlagName, "", "", serviceNameFlagUsage)
	startCmd.Flags().StringP(tlsCertificateFlagName, tlsCertificateFlagShorthand, "", tlsCertificateFlagUsage)
	startCmd.Flags().StringP(tlsKeyFlagName, tlsKeyFlagShorthand, "", tlsKeyFlagUsage)
	startCmd.Flags().StringP(tokenFlagName, "", "", tokenFlagUsage)
	startCmd.Flags().StringP(pageSizeFlagName, "", "", pageSizeFlagUsage)
	startCmd.Flags().StringP(maxRecipientsFlagName, "", "", maxRecipientsFlagUsage)
	startCmd.Flags().StringP(deliveryCheckIntervalFlagName, "", "", deliveryCheckIntervalFlagUsage)
	startCmd.Flags().StringP(deliveryMaxRetriesFlagName, "", "", deliveryMaxRetriesFlagUsage)
	startCmd.Flags().StringP(nodeInfoRefreshIntervalFlagName, "", "", nodeInfoRefreshIntervalFlagUsage)
	startCmd.Flags().StringP(maintenanceModeFlagName, "", "", maintenanceModeFlagUsage)
	startCmd.Flags().StringP(LogLevelFlagName, LogLevelFlagShorthand, "", LogLevelFlagUsage)
}
