package repo

import "github.com/jackc/pgx/v5/pgxpool"

// Postgres — Record Store поверх PostgreSQL.
type Postgres struct {
	*RunRepo
	*FlowRepo
	*DeploymentRepo
	*LogRepo
}

var _ Store = (*Postgres)(nil)

// NewPostgres собирает Record Store из репозиториев на общем пуле.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		RunRepo:        NewRunRepo(pool),
		FlowRepo:       NewFlowRepo(pool),
		DeploymentRepo: NewDeploymentRepo(pool),
		LogRepo:        NewLogRepo(pool),
	}
}
