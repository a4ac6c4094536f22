// SPDX-License-Identifier: Apache-2.0

package domain

type Decision string

const (
	DecisionAdmit    Decision = "ADMIT"
	DecisionSuppress Decision = "SUPPRESS"
)

func (d Decision) Admitted() bool {
	return d == DecisionAdmit
}
