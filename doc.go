/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package attestation drives an identity owner, an attester and a verifier through an IPv8 attestation
// and verification of one attribute, using the attestation REST API every peer exposes.
//
// Packages for end developer usage
//
// pkg/scenario: Runs the attestation flow against three running peers.
//
// pkg/deploy: Starts the three peers with a pkg/peer launcher and works out their mids.
//
// pkg/client/attestation, pkg/client/trustchain: Typed clients of the peer REST API.
//
// pkg/healthcheck: Checks one peer for its expected peers and attribute.
//
// Basic workflow
//
//      1) Deploy the peers with deploy.Deploy, or describe running ones with peer.Remote.
//      2) Resolve missing mids with deploy.ResolveIdentities.
//      3) Create a driver with scenario.New and call Run.
//      4) Stop the deployment.
package attestation
