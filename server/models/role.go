package models

const (
	ADMIN_ROLE = "admin"
	BASIC_ROLE = "basic"
)

type Role struct {
	BaseModel
	Name     string    `json:"name"`
	Profiles []Profile `json:"profiles,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
}

func (s *Store) FindRole(name string) (*Role, error) {
	role := Role{}
	err := s.db.Select("id", "name").First(&role, "name = ?", name).Error
	if err != nil {
		return nil, err
	}

	return &role, nil
}
